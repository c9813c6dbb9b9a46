package main

import (
	"context"
	"net/http"
	"strings"
)

type nameRequest struct {
	Name string `json:"name"`
}

type mergeRequest struct {
	LoserID string `json:"loserId"`
}

// Tag and author handlers share shapes, so each pair delegates to the
// same generic helpers with the store methods plugged in.

func handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := st.ListTags(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": emptyIfNil(tags)})
}

func handleCreateTag(w http.ResponseWriter, r *http.Request) {
	createNamed(w, r, func(ctx context.Context, name string) (any, error) {
		return st.CreateTag(ctx, name)
	})
}

func handleRenameTag(w http.ResponseWriter, r *http.Request) {
	renameNamed(w, r, st.RenameTag)
}

func handleMergeTags(w http.ResponseWriter, r *http.Request) {
	mergeNamed(w, r, st.MergeTags)
}

func handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	deleteNamed(w, r, st.DeleteTag)
}

func handleListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := st.ListAuthors(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authors": emptyIfNil(authors)})
}

func handleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	createNamed(w, r, func(ctx context.Context, name string) (any, error) {
		return st.CreateAuthor(ctx, name)
	})
}

func handleRenameAuthor(w http.ResponseWriter, r *http.Request) {
	renameNamed(w, r, st.RenameAuthor)
}

func handleMergeAuthors(w http.ResponseWriter, r *http.Request) {
	mergeNamed(w, r, st.MergeAuthors)
}

func handleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	deleteNamed(w, r, st.DeleteAuthor)
}

func createNamed(w http.ResponseWriter, r *http.Request, create func(context.Context, string) (any, error)) {
	req, err := parseJSON[nameRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "name required")
		return
	}
	created, err := create(r.Context(), req.Name)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func renameNamed(w http.ResponseWriter, r *http.Request, rename func(context.Context, string, string) error) {
	req, err := parseJSON[nameRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "name required")
		return
	}
	if err := rename(r.Context(), r.PathValue("id"), req.Name); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renamed": true})
}

func mergeNamed(w http.ResponseWriter, r *http.Request, merge func(context.Context, string, string) error) {
	req, err := parseJSON[mergeRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	winnerID := r.PathValue("id")
	if strings.TrimSpace(req.LoserID) == "" || req.LoserID == winnerID {
		writeErr(w, http.StatusBadRequest, "validation_failed", "loserId must name a different entry")
		return
	}
	if err := merge(r.Context(), winnerID, req.LoserID); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merged": true})
}

func deleteNamed(w http.ResponseWriter, r *http.Request, del func(context.Context, string) error) {
	if err := del(r.Context(), r.PathValue("id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
