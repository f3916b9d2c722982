package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

// bcrypt cost 4 is the minimum and keeps these tests fast.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(4)
}

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("Hash() = %q, want $2a$04$ prefix", hash)
	}

	again, _ := ps.Hash("correct-horse")
	if hash == again {
		t.Error("same password should hash differently (random salt)")
	}
}

func TestHash_Policy(t *testing.T) {
	ps := newTestPasswordService()

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "abc", true},
		{"minimum length", "abcdef", false},
		{"exactly 72 bytes", strings.Repeat("a", 72), false},
		{"over 72 bytes", strings.Repeat("a", 73), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ps.Hash(tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Hash() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("policy error should be ErrValidation, got %v", err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, _ := ps.Hash("correct-horse")

	if err := ps.Verify(hash, "correct-horse"); err != nil {
		t.Errorf("Verify() correct password error = %v", err)
	}

	err := ps.Verify(hash, "wrong-horse")
	if !errors.Is(err, apperror.ErrAuth) {
		t.Errorf("Verify() wrong password error = %v, want ErrAuth", err)
	}

	if err := ps.Verify("not-a-hash", "correct-horse"); err == nil || errors.Is(err, apperror.ErrAuth) {
		t.Errorf("Verify() garbage hash error = %v, want a non-auth error", err)
	}
}
