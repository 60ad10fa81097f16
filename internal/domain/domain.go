package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Post statuses.
const (
	StatusNew       = "new"
	StatusAssigned  = "assigned"
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusClosed    = "closed"
	StatusEscalate  = "escalate"
)

// Statuses lists every lifecycle state in board order.
var Statuses = []string{StatusNew, StatusAssigned, StatusSubmitted, StatusPending, StatusClosed, StatusEscalate}

// Architect statuses.
const (
	ArchitectActive   = "active"
	ArchitectInactive = "inactive"
)

const postIDPrefix = "post-"

type FileDescriptor struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

type Attachment struct {
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploadedBy"`
	UploadedAt string `json:"uploadedAt" format:"date-time"`
}

// ProofBatch is one proof-of-work submission.
type ProofBatch struct {
	ID         string           `json:"id"`
	UploadedBy string           `json:"uploadedBy"`
	UploadedAt string           `json:"uploadedAt" format:"date-time"`
	Note       string           `json:"note,omitempty"`
	Files      []FileDescriptor `json:"files"`
}

type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Post struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	ConcernedParties   []string     `json:"concernedParties"`
	Status             string       `json:"status" enum:"new,assigned,submitted,pending,closed,escalate"`
	AssignedArchitects []string     `json:"assignedArchitects"`
	AdminAssigned      bool         `json:"adminAssigned"`
	Attachments        []Attachment `json:"attachments"`
	ProofOfWork        []ProofBatch `json:"proofOfWork"`
	Conversations      []Comment    `json:"conversations"`
	IsArchived         bool         `json:"isArchived"`
	CreatedAt          string       `json:"createdAt" format:"date-time"`
	CreatedBy          string       `json:"createdBy"`
	UpdatedAt          string       `json:"updatedAt,omitempty" format:"date-time"`
	UpdatedBy          string       `json:"updatedBy,omitempty"`
	SubmittedAt        string       `json:"submittedAt,omitempty" format:"date-time"`
	SubmittedBy        string       `json:"submittedBy,omitempty"`
	ClosedAt           string       `json:"closedAt,omitempty" format:"date-time"`
	ClosedBy           string       `json:"closedBy,omitempty"`
	ApprovedBy         string       `json:"approvedBy,omitempty"`
	EscalatedAt        string       `json:"escalatedAt,omitempty" format:"date-time"`
	EscalatedBy        string       `json:"escalatedBy,omitempty"`
	ArchivedAt         string       `json:"archivedAt,omitempty" format:"date-time"`
	ArchivedBy         string       `json:"archivedBy,omitempty"`
	RestoredAt         string       `json:"restoredAt,omitempty" format:"date-time"`
	RestoredBy         string       `json:"restoredBy,omitempty"`
}

// Normalize replaces nil collections with empty ones so documents always
// serialize lists as [] rather than null.
func (p *Post) Normalize() {
	if p.ConcernedParties == nil {
		p.ConcernedParties = []string{}
	}
	if p.AssignedArchitects == nil {
		p.AssignedArchitects = []string{}
	}
	if p.Attachments == nil {
		p.Attachments = []Attachment{}
	}
	if p.ProofOfWork == nil {
		p.ProofOfWork = []ProofBatch{}
	}
	if p.Conversations == nil {
		p.Conversations = []Comment{}
	}
	for i := range p.ProofOfWork {
		if p.ProofOfWork[i].Files == nil {
			p.ProofOfWork[i].Files = []FileDescriptor{}
		}
	}
}

// Clone returns a deep copy so pure transitions never alias the input.
func (p Post) Clone() Post {
	out := p
	out.ConcernedParties = append([]string(nil), p.ConcernedParties...)
	out.AssignedArchitects = append([]string(nil), p.AssignedArchitects...)
	out.Attachments = append([]Attachment(nil), p.Attachments...)
	out.Conversations = append([]Comment(nil), p.Conversations...)
	out.ProofOfWork = make([]ProofBatch, len(p.ProofOfWork))
	for i, b := range p.ProofOfWork {
		b.Files = append([]FileDescriptor(nil), b.Files...)
		out.ProofOfWork[i] = b
	}
	out.Normalize()
	return out
}

// IsAssigned reports whether username is among the assigned architects.
func (p Post) IsAssigned(username string) bool {
	for _, a := range p.AssignedArchitects {
		if a == username {
			return true
		}
	}
	return false
}

type Architect struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	Email          string `json:"email,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	Status         string `json:"status" enum:"active,inactive"`
	AddedAt        string `json:"addedAt" format:"date-time"`
	AddedBy        string `json:"addedBy"`
	DeactivatedAt  string `json:"deactivatedAt,omitempty" format:"date-time"`
	DeactivatedBy  string `json:"deactivatedBy,omitempty"`
}

// StatusDef is the display definition of a lifecycle state.
type StatusDef struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Color string `json:"color"`
	Order int    `json:"order"`
}

type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
}

// DefaultStatuses seeds config/statuses.json.
func DefaultStatuses() []StatusDef {
	return []StatusDef{
		{Key: StatusNew, Label: "New", Color: "#6b7280", Order: 1},
		{Key: StatusAssigned, Label: "Assigned", Color: "#2563eb", Order: 2},
		{Key: StatusSubmitted, Label: "Submitted for review", Color: "#7c3aed", Order: 3},
		{Key: StatusPending, Label: "Pending", Color: "#d97706", Order: 4},
		{Key: StatusClosed, Label: "Closed", Color: "#059669", Order: 5},
		{Key: StatusEscalate, Label: "Escalated", Color: "#dc2626", Order: 6},
	}
}

// FormatPostID renders the n-th post id, zero-padded to four digits.
func FormatPostID(n int) string {
	return fmt.Sprintf("%s%04d", postIDPrefix, n)
}

// ParsePostID extracts the numeric suffix of a canonical post id: the
// prefix followed by at least four digits, with no padding beyond four.
func ParsePostID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, postIDPrefix)
	if !ok || len(rest) < 4 {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || FormatPostID(n) != id {
		return 0, false
	}
	return n, true
}
