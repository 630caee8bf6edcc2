package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/scoring"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := model.UserRole(r.URL.Query().Get("role"))
	users, err := h.store.ListUsers(role)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, r, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for i := range users {
		out = append(out, newUserJSON(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, fmt.Errorf("%w: username and password required", errBadRequest))
		return
	}
	switch req.Role {
	case "":
		req.Role = model.UserRoleStudent
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		writeError(w, r, fmt.Errorf("%w: unknown role %q", errBadRequest, req.Role))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.store.GetUserByID(id)
	if err != nil || u == nil {
		writeError(w, r, fmt.Errorf("read created user %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusCreated, newUserJSON(u))
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id == model.UserFromContext(r.Context()).ID {
		writeError(w, r, fmt.Errorf("%w: cannot deactivate yourself", errBadRequest))
		return
	}
	active, err := h.store.ToggleUserActive(id)
	if err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.ExamRecord{}
	}
	writeJSON(w, http.StatusOK, exams)
}

// readUpload returns the exam document from a multipart "exam_file" field or the raw body.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
		file, _, err := r.FormFile("exam_file")
		if err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		return nil, errors.Join(errBadRequest, err)
	}
	return data, nil
}

func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.importer.Import(r.Context(), r.URL.Query().Get("id"), data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Unchanged {
		status = http.StatusOK
	}
	score := scoring.Score(res.Definition, nil)
	slog.Info("uploaded exam via admin", "exam_id", res.Definition.ID, "unchanged", res.Unchanged)
	writeJSON(w, status, map[string]any{
		"id":        res.Definition.ID,
		"title":     res.Definition.Title,
		"sections":  len(res.Definition.Sections),
		"questions": len(score.Questions),
		"max_score": score.MaxScore,
		"hash":      res.Hash,
		"unchanged": res.Unchanged,
	})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		var err error
		if after, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, r, errors.Join(errBadRequest, err))
			return
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	evs, err := h.store.ListEvents(r.Context(), after, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if evs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
