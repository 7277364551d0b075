package httpdto

type SendMessageRequest struct {
	To               string `json:"to"`
	Content          string `json:"content"`
	Kind             string `json:"kind,omitempty"`
	MediaKey         string `json:"media_key,omitempty"`
	FileName         string `json:"file_name,omitempty"`
	TemplateName     string `json:"template_name,omitempty"`
	TemplateLanguage string `json:"template_language,omitempty"`
}
