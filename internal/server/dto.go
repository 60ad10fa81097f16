package server

import (
	"strings"

	"bulletin/internal/domain"
	"bulletin/internal/repo"
)

// Request payloads

type UpdatePostRequest struct {
	domain.PostFields
	// Version overrides the If-Match header when set.
	Version string `json:"version,omitempty"`
}

type AssignArchitectsRequest struct {
	Usernames []string `json:"usernames" minItems:"1"`
}

type CommentRequest struct {
	Message string `json:"message" minLength:"1" maxLength:"5000"`
}

type UploadFile struct {
	Filename string `json:"filename" minLength:"1"`
	Content  []byte `json:"content"`
}

type UploadRequest struct {
	Note  string       `json:"note,omitempty" maxLength:"2000"`
	Files []UploadFile `json:"files" minItems:"1"`
}

// Response payloads

type PostResponse struct {
	domain.Post
	Version string `json:"version"`
}

type MeResponse struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	Privileged bool   `json:"privileged"`
}

func postResponse(v repo.Versioned[domain.Post]) PostResponse {
	return PostResponse{Post: v.Doc, Version: v.Token}
}

func mapPosts(items []repo.Versioned[domain.Post]) []PostResponse {
	out := make([]PostResponse, 0, len(items))
	for _, v := range items {
		out = append(out, postResponse(v))
	}
	return out
}

func etag(token string) string {
	if token == "" {
		return ""
	}
	return `"` + token + `"`
}

// versionFrom accepts a bare token or an entity tag from If-Match.
func versionFrom(ifMatch string) string {
	v := strings.TrimSpace(ifMatch)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}
