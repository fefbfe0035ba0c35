package server

import (
	"testing"
	"time"
)

func TestApplyDefaults_NilConfig(t *testing.T) {
	config := applyDefaults(nil)

	if config.Logger == nil {
		t.Error("Logger not defaulted")
	}
	if config.AuthorizationCodeTTL != DefaultAuthorizationCodeTTL {
		t.Errorf("AuthorizationCodeTTL = %v, want %v", config.AuthorizationCodeTTL, DefaultAuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, want %v", config.AccessTokenTTL, DefaultAccessTokenTTL)
	}
	if config.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v, want %v", config.RefreshTokenTTL, DefaultRefreshTokenTTL)
	}
	if config.AllowPKCEPlain {
		t.Error("AllowPKCEPlain defaulted to true")
	}
	if config.DisablePKCEForPublicClients {
		t.Error("DisablePKCEForPublicClients defaulted to true")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	config := applyDefaults(&Config{
		Issuer:               "https://auth.example.com",
		AuthorizationCodeTTL: time.Minute,
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      time.Hour,
	})

	if config.AuthorizationCodeTTL != time.Minute {
		t.Errorf("AuthorizationCodeTTL = %v, want 1m", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 1h", config.RefreshTokenTTL)
	}
}

func TestApplyDefaults_NeverExpiresSkipsRefreshTTL(t *testing.T) {
	config := applyDefaults(&Config{RefreshTokenNeverExpires: true})

	if config.RefreshTokenTTL != 0 {
		t.Errorf("RefreshTokenTTL = %v, want 0 with RefreshTokenNeverExpires", config.RefreshTokenTTL)
	}
}
