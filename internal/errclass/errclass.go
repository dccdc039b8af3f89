// Package errclass maps crawl failures onto a fixed taxonomy of operator-facing
// error types, each with a category, a short message and a suggestion.
package errclass

import (
	"context"
	"errors"
	"strings"
)

// Type identifies a classified failure. Values are persisted on failed items.
type Type string

// Known error types.
const (
	ConnectionRefused       Type = "connection_refused"
	ConnectionTimeout       Type = "connection_timeout"
	DNSError                Type = "dns_error"
	InvalidURL              Type = "invalid_url"
	URLNotFound             Type = "url_not_found"
	BrowserNotAvailable     Type = "browser_not_available"
	BrowserNavigationFailed Type = "browser_navigation_failed"
	ContentExtractionFailed Type = "content_extraction_failed"
	SelectorNotFound        Type = "selector_not_found"
	FileSaveError           Type = "file_save_error"
	FileNotFound            Type = "file_not_found"
	FileTooLarge            Type = "file_too_large"
	DependencyNotInstalled  Type = "dependency_not_installed"
	CrawlerNotInstalled     Type = "crawler_not_installed"
	AuthenticationRequired  Type = "authentication_required"
	AuthenticationFailed    Type = "authentication_failed"
	RateLimited             Type = "rate_limited"
	PageLoadTimeout         Type = "page_load_timeout"
	RobotsTxtDisallowed     Type = "robots_txt_disallowed"
	AccessDenied            Type = "access_denied"
	DatabaseConnectionError Type = "database_connection_error"
	DatabaseQueryError      Type = "database_query_error"
	Unknown                 Type = "unknown_error"
)

// Info is the operator-facing description of a failure.
type Info struct {
	Type       Type   `json:"type"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

var categories = map[string]string{
	"connection":     "Connection Error",
	"url":            "URL Error",
	"browser":        "Browser Error",
	"parse":          "Parsing Error",
	"file":           "File Error",
	"dependency":     "Dependency Error",
	"authentication": "Authentication Error",
	"rate_limit":     "Rate Limit Error",
	"timeout":        "Timeout Error",
	"permission":     "Permission Error",
	"database":       "Database Error",
	"unknown":        "Unknown Error",
}

type entry struct {
	category   string
	message    string
	suggestion string
}

var catalog = map[Type]entry{
	ConnectionRefused: {"connection", "The server refused to connect.",
		"Check if the website is online and try again later. If using a proxy, make sure it's working correctly."},
	ConnectionTimeout: {"connection", "The connection timed out.",
		"The website might be slow or unresponsive. Try again later or increase the timeout value in settings."},
	DNSError: {"connection", "Could not resolve the domain name.",
		"Check if the URL is correct. The domain might be unavailable or your internet connection might have DNS issues."},
	InvalidURL: {"url", "The URL is invalid.",
		"Make sure the URL starts with 'http://' or 'https://' and contains a valid domain name."},
	URLNotFound: {"url", "The URL was not found (404 error).",
		"The page might have been moved or deleted. Check if the URL is correct."},
	BrowserNotAvailable: {"browser", "Browser-based crawling is not available.",
		"Enable headless crawling in the configuration or turn off the browser option for this batch."},
	BrowserNavigationFailed: {"browser", "Browser navigation failed.",
		"The website might be using complex JavaScript or anti-bot measures. Try again without browser-based crawling."},
	ContentExtractionFailed: {"parse", "Failed to extract content from the page.",
		"The website structure might be complex or non-standard. Try using browser-based crawling."},
	SelectorNotFound: {"parse", "The specified CSS selector was not found on the page.",
		"Check if the selector is correct. The page structure might have changed since you last inspected it."},
	FileSaveError: {"file", "Failed to save the result file.",
		"Check if the output directory exists and you have write permissions."},
	FileNotFound: {"file", "The specified file was not found.",
		"Check if the file path is correct and the file exists."},
	FileTooLarge: {"file", "The file is too large to download.",
		"Increase the max body size or specify a smaller file."},
	DependencyNotInstalled: {"dependency", "A required dependency is not installed.",
		"Install the required component and restart the service."},
	CrawlerNotInstalled: {"dependency", "The crawler backend is not installed.",
		"Install the crawler backend and restart the service."},
	AuthenticationRequired: {"authentication", "The website requires authentication.",
		"Login is required to access this content. Try using browser-based crawling with login support."},
	AuthenticationFailed: {"authentication", "Authentication failed.",
		"Check if your login credentials are correct and try again."},
	RateLimited: {"rate_limit", "You've been rate limited by the website.",
		"The website has detected too many requests. Wait a while before trying again or raise the batch delays."},
	PageLoadTimeout: {"timeout", "The page took too long to load.",
		"The website might be slow or contain heavy resources. Try increasing the timeout in settings."},
	RobotsTxtDisallowed: {"permission", "Access to this URL is disallowed by robots.txt.",
		"This website doesn't allow crawling of this page. Consider respecting their policy."},
	AccessDenied: {"permission", "Access to the website was denied (403 error).",
		"The website is blocking access. It might require authentication or be blocking automated access."},
	DatabaseConnectionError: {"database", "Failed to connect to the database.",
		"Check if the database server is running and the connection settings are correct."},
	DatabaseQueryError: {"database", "A database query failed.",
		"There might be an issue with the database schema or data consistency."},
	Unknown: {"unknown", "An unknown error occurred.",
		"Check the application logs for more details."},
}

// Classify returns the Info for err. A nil error classifies as Unknown.
func Classify(err error) Info {
	if err == nil {
		return Lookup(Unknown)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Lookup(ConnectionTimeout)
	}
	return Lookup(TypeOf(err.Error()))
}

// Lookup returns the Info for a known type, or Unknown's Info.
func Lookup(t Type) Info {
	e, ok := catalog[t]
	if !ok {
		t, e = Unknown, catalog[Unknown]
	}
	return Info{
		Type:       t,
		Category:   categories[e.category],
		Message:    e.message,
		Suggestion: e.suggestion,
	}
}

// TypeOf classifies an error message. Rules are checked in order; the first match wins.
func TypeOf(message string) Type {
	msg := strings.ToLower(message)
	has := func(terms ...string) bool {
		for _, term := range terms {
			if strings.Contains(msg, term) {
				return true
			}
		}
		return false
	}

	switch {
	case has("connection refused", "failed to establish", "connectrefused"):
		return ConnectionRefused
	case has("timed out", "timeout"):
		return ConnectionTimeout
	case has("dns", "name resolution", "name or service not known"):
		return DNSError
	case has("invalid url", "invalid scheme", "no scheme"):
		return InvalidURL
	case has("404", "not found"):
		return URLNotFound
	case has("chromedp", "chrome", "browser"):
		if has("not installed", "not found") {
			return BrowserNotAvailable
		}
		return BrowserNavigationFailed
	case has("selector") && has("not found", "no matches"):
		return SelectorNotFound
	case has("extract", "parse"):
		return ContentExtractionFailed
	case has("permission denied") && has("write", "save"):
		return FileSaveError
	case has("no such file", "file not found"):
		return FileNotFound
	case has("file too large", "exceeds maximum"):
		return FileTooLarge
	case has("module") && has("not found"):
		if has("crawler") {
			return CrawlerNotInstalled
		}
		return DependencyNotInstalled
	case has("login", "authentication"):
		if has("required") {
			return AuthenticationRequired
		}
		return AuthenticationFailed
	case has("rate limit", "too many requests", "429"):
		return RateLimited
	case has("page load") && has("timeout"):
		return PageLoadTimeout
	case has("robots.txt") && has("disallowed"):
		return RobotsTxtDisallowed
	case has("403", "forbidden"):
		return AccessDenied
	case has("database") && has("connection"):
		return DatabaseConnectionError
	case has("sql", "query"):
		return DatabaseQueryError
	default:
		return Unknown
	}
}
