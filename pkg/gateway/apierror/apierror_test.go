package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_StoreNotFound_Is404(t *testing.T) {
	ce, status := FromError(fmt.Errorf("get message: %w", store.ErrNotFound), "req_test")
	if status != http.StatusNotFound || ce.Type != ErrNotFound {
		t.Fatalf("status=%d type=%q", status, ce.Type)
	}
}

func TestFromError_CanonicalKeepsCode(t *testing.T) {
	ce, status := FromError(&Error{Type: ErrOverloaded, Message: "draining", Code: "draining"}, "req_x")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if ce.Code != "draining" || ce.RequestID != "req_x" {
		t.Fatalf("err=%+v", ce)
	}
}

func TestFromError_UnknownIsNotLeaked(t *testing.T) {
	ce, status := FromError(errors.New("dsn password=secret"), "")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("status=%d message=%q", status, ce.Message)
	}
}

func TestWrite_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, http.StatusNotFound, &Error{Type: ErrNotFound, Message: "audio not ready", Code: "audio_pending", RequestID: "req_1"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
	var env struct {
		Error map[string]string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error["type"] != "not_found_error" || env.Error["code"] != "audio_pending" || env.Error["request_id"] != "req_1" {
		t.Fatalf("envelope=%v", env.Error)
	}
}
