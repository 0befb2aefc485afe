package utils

import "testing"

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"jon@example.com",
		"jon.snow+orders@example.co.ke",
		"a@b.io",
	}
	for _, email := range valid {
		if !IsValidEmail(email) {
			t.Errorf("IsValidEmail(%q) = false, want true", email)
		}
	}

	invalid := []string{
		"",
		"not-an-email",
		"@example.com",
		"jon@",
		"jon snow@example.com",
	}
	for _, email := range invalid {
		if IsValidEmail(email) {
			t.Errorf("IsValidEmail(%q) = true, want false", email)
		}
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	if err := ValidatePhoneNumber("+254712345678", "KE"); err != nil {
		t.Errorf("valid KE number rejected: %v", err)
	}
	if err := ValidatePhoneNumber("0712345678", "KE"); err != nil {
		t.Errorf("local KE number rejected: %v", err)
	}
	if err := ValidatePhoneNumber("12", "KE"); err == nil {
		t.Error("short number accepted")
	}
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Name  string `validate:"required"`
		Email string `validate:"omitempty,email"`
	}

	if err := ValidateStruct(&payload{Name: "ok"}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}

	err := ValidateStruct(&payload{Email: "nope"})
	if err == nil {
		t.Fatal("invalid struct accepted")
	}
	fields := ProcessValidationErrors(err)
	if len(fields) != 2 {
		t.Errorf("ProcessValidationErrors returned %d entries, want 2: %v", len(fields), fields)
	}
}
