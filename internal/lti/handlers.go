package lti

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the two HTTP-facing launch steps.
//
//	r.Mount("/lti", lti.Routes(svc))
func Routes(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Get("/login", LoginHandler(svc))
	r.Post("/launch", LaunchHandler(svc))
	return r
}

// LoginHandler accepts the OIDC third-party-initiated login and bounces the
// browser to the platform's authorization endpoint.
func LoginHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		redirect, err := svc.LoginInitiation(r.Context(), LoginRequest{
			Issuer:         q.Get("iss"),
			LoginHint:      q.Get("login_hint"),
			TargetLinkURI:  q.Get("target_link_uri"),
			ClientID:       q.Get("client_id"),
			LTIMessageHint: q.Get("lti_message_hint"),
		})
		if err != nil {
			writeLaunchError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// LaunchHandler receives the id_token form post and renders the launch
// result, or a machine-distinguishable error.
func LaunchHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeLaunchError(w, errKind(KindMissingParameter, "bad form body"))
			return
		}
		res, err := svc.HandleLaunch(r.Context(), r.PostFormValue("id_token"), r.PostFormValue("state"))
		if err != nil {
			writeLaunchError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = launchPage.Execute(w, res)
	}
}

type launchErrResp struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func writeLaunchError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	if kind == "" {
		http.Error(w, "launch failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(launchErrResp{Error: string(kind), Description: err.Error()})
}

var launchPage = template.Must(template.New("launch").Parse(`<!doctype html>
<html>
<head><title>Launch Successful</title></head>
<body style="font-family: Arial; max-width: 800px; margin: 50px auto; padding: 20px;">
  <h1>Welcome!</h1>
  <p>Successfully authenticated via LTI 1.3</p>
  <hr>
  <h2>User</h2>
  <ul>
    <li><strong>Name:</strong> {{if .User.Name}}{{.User.Name}}{{else}}Not provided{{end}}</li>
    <li><strong>Email:</strong> {{if .User.Email}}{{.User.Email}}{{else}}Not provided{{end}}</li>
    <li><strong>Platform:</strong> {{.Platform.Name}}</li>
    <li><strong>User ID:</strong> {{.User.Subject}}</li>
  </ul>
  <hr>
  <h3>Course</h3>
  <p>{{.Claims.Context.Title}} ({{.Claims.Context.ID}})</p>
  <h3>Assignment</h3>
  <p>{{.Claims.ResourceLink.Title}} ({{.Claims.ResourceLink.ID}})</p>
</body>
</html>
`))
