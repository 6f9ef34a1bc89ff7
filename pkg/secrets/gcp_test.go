package secrets

import "testing"

func TestVersionName(t *testing.T) {
	got := VersionName("quant-prod", "voldiscount-api-jwt-secret")
	want := "projects/quant-prod/secrets/voldiscount-api-jwt-secret/versions/latest"
	if got != want {
		t.Errorf("VersionName: got %q, want %q", got, want)
	}
}

func TestDefaultSecretNames(t *testing.T) {
	if DefaultSecretNames().JWTSecret == "" {
		t.Error("default JWT secret name should not be empty")
	}
}
