package lti

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestLoginHandlerRedirects(t *testing.T) {
	p := newTestPlatform(t)
	svc, _ := newTestService(t, p)
	srv := httptest.NewServer(Routes(svc))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/login?iss=" + url.QueryEscape("https://lms.example.edu") + "&login_hint=h1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), "https://lms.example.edu/auth?") {
		t.Errorf("location = %q", loc)
	}
	if loc.Query().Get("state") == "" || loc.Query().Get("nonce") == "" {
		t.Errorf("location missing state/nonce: %q", loc)
	}
}

func TestLoginHandlerMissingIssuer(t *testing.T) {
	p := newTestPlatform(t)
	svc, _ := newTestService(t, p)
	srv := httptest.NewServer(Routes(svc))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/login?login_hint=h1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body launchErrResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != string(KindMissingParameter) {
		t.Errorf("error = %q", body.Error)
	}
}

func TestLaunchHandlerBadState(t *testing.T) {
	p := newTestPlatform(t)
	svc, _ := newTestService(t, p)
	srv := httptest.NewServer(Routes(svc))
	defer srv.Close()

	form := url.Values{"id_token": {p.sign(t, launchClaims("n"))}, "state": {"forged"}}
	resp, err := http.PostForm(srv.URL+"/launch", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body launchErrResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "invalid_state" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestLaunchHandlerSuccessPage(t *testing.T) {
	p := newTestPlatform(t)
	svc, _ := newTestService(t, p)
	srv := httptest.NewServer(Routes(svc))
	defer srv.Close()

	state, nonce := initiate(t, svc)
	form := url.Values{"id_token": {p.sign(t, launchClaims(nonce))}, "state": {state}}
	resp, err := http.PostForm(srv.URL+"/launch", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	page := string(raw)
	for _, want := range []string{"Test Student", "student@example.edu", "Example LMS", "Algebra I", "Homework 2"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestLaunchHandlerKeySetUnreachable(t *testing.T) {
	p := newTestPlatform(t)
	svc, _ := newTestService(t, p)
	srv := httptest.NewServer(Routes(svc))
	defer srv.Close()

	state, nonce := initiate(t, svc)
	token := p.sign(t, launchClaims(nonce))

	// Platform's key-set endpoint goes down between initiation and callback.
	p.srv.Close()

	form := url.Values{"id_token": {token}, "state": {state}}
	resp, err := http.PostForm(srv.URL+"/launch", form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body launchErrResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "key_fetch_error" {
		t.Errorf("error = %q", body.Error)
	}
}
