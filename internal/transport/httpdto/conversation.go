package httpdto

type UpdateConversationRequest struct {
	Status          *string  `json:"status,omitempty"`
	AssignedTo      *string  `json:"assigned_to,omitempty"`
	Unassign        bool     `json:"unassign,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	ExpectedVersion *int64   `json:"expected_version,omitempty"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

type ConversationListResponse[T any] struct {
	Conversations []T        `json:"conversations"`
	Pagination    Pagination `json:"pagination"`
}

func NewPagination(page, limit int, total int64) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.Pages = (total + int64(limit) - 1) / int64(limit)
	}
	return p
}
