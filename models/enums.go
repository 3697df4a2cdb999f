package models

// ContentType classifies a fetched or projected document body.
type ContentType string

const (
	ContentHTML      ContentType = "html"
	ContentMarkdown  ContentType = "md"
	ContentPDF       ContentType = "pdf"
	ContentJSON      ContentType = "json"
	ContentXML       ContentType = "xml"
	ContentPlainText ContentType = "txt"
	ContentImage     ContentType = "image"
	ContentOther     ContentType = "other"
)

// BinaryContentTypes are read as bytes rather than decoded text.
var BinaryContentTypes = map[ContentType]bool{
	ContentPDF:   true,
	ContentImage: true,
}

// ExtractableContentTypes are eligible for the orchestrator's
// content-type dispatch; anything else fails as non_html_content.
var ExtractableContentTypes = map[ContentType]bool{
	ContentHTML:      true,
	ContentPDF:       true,
	ContentMarkdown:  true,
	ContentJSON:      true,
	ContentXML:       true,
	ContentPlainText: true,
	ContentImage:     true,
}

// FailureReason is the canonical enumeration of fetch failure kinds.
type FailureReason string

const (
	FailureNonHTMLContent FailureReason = "non_html_content"
	FailureLowTextContent FailureReason = "low_text_content"
	FailureBadStatus      FailureReason = "bad_status"
	FailureParseError     FailureReason = "parse_error"
	FailureCloudflare     FailureReason = "cloudflare_block"
	FailureBlocked        FailureReason = "blocked"
	FailureRequestError   FailureReason = "request_error"
	FailureProxyError     FailureReason = "proxy_error"
)

// FailureCategory maps a failure reason to its analytics category.
// In this source the mapping is the identity, but it is kept as an
// explicit table (not a cast) so categories can diverge later without
// touching every call site.
var FailureCategory = map[FailureReason]string{
	FailureBadStatus:      "bad_status",
	FailureCloudflare:     "cloudflare_block",
	FailureBlocked:        "blocked",
	FailureRequestError:   "request_error",
	FailureProxyError:     "proxy_error",
	FailureParseError:     "parse_error",
	FailureNonHTMLContent: "non_html_content",
	FailureLowTextContent: "low_text_content",
}

// CMS identifies a detected content-management system.
type CMS string

const (
	CMSWordPress CMS = "wordpress"
	CMSShopify   CMS = "shopify"
	CMSUnknown   CMS = "unknown"
)

// Firewall identifies a detected edge/WAF provider.
type Firewall string

const (
	FirewallCloudflare Firewall = "cloudflare"
	FirewallAWSWAF     Firewall = "aws_waf"
	FirewallDataDome   Firewall = "datadome"
	FirewallNone       Firewall = "none"
)

// ProxyType selects which proxy pool a domain's requests draw from.
type ProxyType string

const (
	ProxyDatacenter ProxyType = "datacenter"
	ProxyResidential ProxyType = "residential"
	ProxyNone        ProxyType = "none"
)

// OutputMode controls how much of the parse result the façade computes.
type OutputMode string

const (
	OutputRich     OutputMode = "rich"
	OutputResearch OutputMode = "research"
)

// RequestType selects the fetcher transport.
type RequestType string

const (
	RequestBrowser RequestType = "browser"
	RequestNormal  RequestType = "normal"
)

// Validity is a cache row's lifecycle state.
type Validity string

const (
	ValidityActive  Validity = "active"
	ValidityStale   Validity = "stale"
	ValidityInvalid Validity = "invalid"
)
