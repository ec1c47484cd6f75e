package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fleetup/fleetup/internal/crypto"
	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/sshexec"
)

type targetRequest struct {
	Name        string  `json:"name"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	User        string  `json:"user"`
	AuthType    string  `json:"auth_type"`
	KeyPath     string  `json:"key_path"`
	Password    *string `json:"password"` // nil on update means "keep current"
	ComposePath string  `json:"compose_path"`
	URL         string  `json:"url"`
}

type targetResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	AuthType    string `json:"auth_type"`
	KeyPath     string `json:"key_path,omitempty"`
	Password    string `json:"password,omitempty"` // masked
	ComposePath string `json:"compose_path"`
	URL         string `json:"url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func targetToResponse(t *database.Target) targetResponse {
	masked := ""
	if t.Password != "" {
		if plain, err := crypto.Decrypt(t.Password); err == nil {
			masked = crypto.Mask(plain)
		} else {
			masked = crypto.Mask(t.Password)
		}
	}
	return targetResponse{
		ID:          t.ID,
		Name:        t.Name,
		Host:        t.Host,
		Port:        t.Port,
		User:        t.User,
		AuthType:    t.AuthType,
		KeyPath:     t.KeyPath,
		Password:    masked,
		ComposePath: t.ComposePath,
		URL:         t.URL,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := database.ListTargets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	resp := make([]targetResponse, 0, len(targets))
	for i := range targets {
		resp = append(resp, targetToResponse(&targets[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func GetTarget(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}
	writeJSON(w, http.StatusOK, targetToResponse(target))
}

func CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Host = strings.TrimSpace(req.Host)
	if req.Name == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "name and host are required")
		return
	}
	if req.ComposePath == "" {
		writeError(w, http.StatusBadRequest, "compose_path is required")
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}
	if req.User == "" {
		req.User = "root"
	}

	target := &database.Target{
		Name:        req.Name,
		Host:        req.Host,
		Port:        req.Port,
		User:        req.User,
		AuthType:    req.AuthType,
		KeyPath:     req.KeyPath,
		ComposePath: req.ComposePath,
		URL:         req.URL,
	}
	if req.Password != nil && *req.Password != "" {
		encrypted, err := crypto.Encrypt(*req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encrypt password")
			return
		}
		target.Password = encrypted
	}

	if err := database.CreateTarget(target); err != nil {
		if errors.Is(err, database.ErrCredentialConflict) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusConflict, "failed to create target (name may already exist)")
		return
	}

	log.Printf("Target created: %s (%s)", logutil.SanitizeForLog(target.Name), logutil.SanitizeForLog(target.Host))
	writeJSON(w, http.StatusCreated, targetToResponse(target))
}

func UpdateTarget(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		target.Name = strings.TrimSpace(req.Name)
	}
	if req.Host != "" {
		target.Host = strings.TrimSpace(req.Host)
	}
	if req.Port != 0 {
		target.Port = req.Port
	}
	if req.User != "" {
		target.User = req.User
	}
	if req.AuthType != "" {
		target.AuthType = req.AuthType
	}
	if req.ComposePath != "" {
		target.ComposePath = req.ComposePath
	}
	target.URL = req.URL

	switch target.AuthType {
	case database.AuthTypeKey:
		if req.KeyPath != "" {
			target.KeyPath = req.KeyPath
		}
		target.Password = ""
	case database.AuthTypePassword:
		target.KeyPath = ""
		if req.Password != nil && *req.Password != "" {
			encrypted, err := crypto.Encrypt(*req.Password)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to encrypt password")
				return
			}
			target.Password = encrypted
		}
	}

	if err := database.UpdateTarget(target); err != nil {
		if errors.Is(err, database.ErrCredentialConflict) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update target")
		return
	}

	writeJSON(w, http.StatusOK, targetToResponse(target))
}

func DeleteTarget(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}
	if err := database.DeleteTarget(target.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}
	log.Printf("Target deleted: %s", logutil.SanitizeForLog(target.Name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SSHConnectionTest opens a command channel to the target and runs a trivial
// command over it, reporting reachability without touching the service.
func SSHConnectionTest(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}

	ch := Engine.Factory(target)
	defer ch.Close()

	ok, msg := sshexec.TestConnection(r.Context(), ch)
	status := "ok"
	if !ok {
		status = "failed"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"success": ok,
		"message": msg,
	})
}
