package models

// FetchResponse is the fetcher's public result, carrying enough
// classification and diagnostic detail for the orchestrator to route
// on content type, retry, and log failures without re-touching the
// network.
type FetchResponse struct {
	RequestURL      string            `json:"request_url"`
	ResponseURL     string            `json:"response_url"`
	RequestType     RequestType       `json:"request_type"`
	ContentType     ContentType       `json:"content_type"`
	Extension       string            `json:"extension,omitempty"`
	OtherExtensions []string          `json:"other_extensions,omitempty"`
	ContentTypeRaw  string            `json:"content_type_raw,omitempty"`
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Content         string            `json:"content,omitempty"`
	ContentBytes    []byte            `json:"-"`
	Title           string            `json:"title,omitempty"`
	ProxyUsed       bool              `json:"proxy_used"`

	Failed              bool           `json:"failed"`
	FailedPrimaryReason *FailureReason `json:"failed_primary_reason,omitempty"`
	FailedReasons       []FailedReason `json:"failed_reasons,omitempty"`

	PublishedAt *string  `json:"published_at,omitempty"`
	ModifiedAt  *string  `json:"modified_at,omitempty"`
	CMSPrimary  *CMS     `json:"cms_primary,omitempty"`
	CMSOther    []CMS    `json:"cms_other,omitempty"`
	Firewall    Firewall `json:"firewall"`
}

// FailedReason is one ordered {kind: message} entry. Order matters:
// FailedPrimaryReason is always the kind of the first entry appended.
type FailedReason struct {
	Kind    FailureReason
	Message string
}

// AppendFailure appends a failure reason and sets Failed/PrimaryReason
// bookkeeping. It is the single place new reasons are added so the
// "first reason wins" invariant can't be violated by a call site.
func (f *FetchResponse) AppendFailure(kind FailureReason, message string) {
	f.Failed = true
	f.FailedReasons = append(f.FailedReasons, FailedReason{Kind: kind, Message: message})
	if f.FailedPrimaryReason == nil {
		k := f.FailedReasons[0].Kind
		f.FailedPrimaryReason = &k
	}
}

// RecomputeFailed enforces failed ⇔ failed_reasons≠[] ∨ status≥400,
// called once status_code is known (it may be read after reasons were
// appended during body inspection).
func (f *FetchResponse) RecomputeFailed() {
	if f.StatusCode >= 400 && len(f.FailedReasons) == 0 {
		f.AppendFailure(FailureBadStatus, "bad status code")
	}
	f.Failed = len(f.FailedReasons) > 0 || f.StatusCode >= 400
}

// IsRetryable reports whether the retry ladder should attempt another
// proxy for this response.
func (f *FetchResponse) IsRetryable() bool {
	if !f.Failed {
		return false
	}
	for _, r := range f.FailedReasons {
		switch r.Kind {
		case FailureRequestError, FailureProxyError, FailureBadStatus:
			return true
		}
	}
	return false
}
