package otp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bandyab/bandyab/internal/config"
)

func gateway(t *testing.T, status int, body string, got *smsRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSender_Success(t *testing.T) {
	var req smsRequest
	srv := gateway(t, http.StatusOK, `{"return":{"status":200,"message":"تایید شد"}}`, &req)
	s := NewHTTPSender(config.SMSConfig{GatewayURL: srv.URL, APIKey: "key-1", Sender: "1000", Template: "code: %s"}, nil)

	if err := s.Send(context.Background(), "+989121234567", "123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if req.Receptor != "+989121234567" || req.Message != "code: 123456" || req.Sender != "1000" {
		t.Errorf("request = %+v", req)
	}
}

func TestHTTPSender_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"http error", http.StatusBadGateway, ``, "HTTP 502"},
		{"nested status", http.StatusOK, `{"return":{"status":418,"message":"bad receptor"}}`, "bad receptor"},
		{"flat status", http.StatusOK, `{"status":401,"message":"invalid key"}`, "invalid key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := gateway(t, tt.status, tt.body, nil)
			s := NewHTTPSender(config.SMSConfig{GatewayURL: srv.URL, APIKey: "key-1"}, nil)
			err := s.Send(context.Background(), "+989121234567", "123456")
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want to contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestHTTPSender_NoStatusFieldIsSuccess(t *testing.T) {
	srv := gateway(t, http.StatusAccepted, `{"id":"abc"}`, nil)
	s := NewHTTPSender(config.SMSConfig{GatewayURL: srv.URL, APIKey: "key-1"}, nil)
	if err := s.Send(context.Background(), "+989121234567", "123456"); err != nil {
		t.Errorf("Send: %v", err)
	}
}

func TestNewSender(t *testing.T) {
	if s, err := NewSender(config.SMSConfig{Provider: "log"}); err != nil || s.Name() != "log" {
		t.Errorf("log provider = %v, %v", s, err)
	}
	if _, err := NewSender(config.SMSConfig{Provider: "http"}); err == nil {
		t.Error("http provider without gateway_url must fail")
	}
	if s, err := NewSender(config.SMSConfig{Provider: "http", GatewayURL: "http://x"}); err != nil || s.Name() != "http" {
		t.Errorf("http provider = %v, %v", s, err)
	}
	if _, err := NewSender(config.SMSConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Error("unknown provider must fail")
	}
}
