// internal/extract/rules.go
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	apperrors "github-content-sync/internal/errors"
	"github-content-sync/internal/model"
)

// Context carries the path-independent signals extraction needs from the
// surrounding repository.
type Context struct {
	Owner string
	Repo  string
}

const summaryMaxLength = 180

var (
	// In-body conventions: an explicit "# Summary" block and an inline
	// "# Tags: [a, b]" list override the preamble.
	summaryBlockPattern = regexp.MustCompile(`(?is)#\s*summary\s*\n+(.*?)(?:\n\s*#|\n{2,}|\z)`)
	inlineTagsPattern   = regexp.MustCompile(`(?i)#\s*tags\s*:\s*\[([^\[\]]*)\]`)

	extensionPattern = regexp.MustCompile(`\.[^.]+$`)
	markdownPunct    = regexp.MustCompile("[#*_>`~\\-\\[\\]!()\n\r]")
	whitespaceRuns   = regexp.MustCompile(`\s+`)
)

// Extract turns one raw file into a NormalizedPost. It is a pure
// function of (file, context): identical input always produces an
// identical post. Only a malformed preamble fails; every other missing
// or malformed field degrades to a default.
func Extract(file model.RawFile, ctx Context) (model.NormalizedPost, error) {
	doc, err := parseDocument(file.Content)
	if err != nil {
		return model.NormalizedPost{}, &apperrors.ExtractionError{Path: file.Path, Err: err}
	}

	title := strings.TrimSpace(doc.Meta.Title)
	if title == "" {
		title = titleFromPath(file.Path)
	}

	slugSource := doc.Meta.Slug
	if slugSource == "" {
		slugSource = title
	}
	slug := EnsureSlug(slugSource, file.Path)

	summary := extractSummaryBlock(doc.Body)
	if summary == "" {
		summary = doc.Meta.Summary
	}
	if summary == "" {
		summary = doc.Meta.Description
	}
	summary = summarize(doc.Body, summary)

	status := model.StatusPublished
	if string(doc.Meta.Status) == string(model.StatusDraft) {
		status = model.StatusDraft
	}

	tagLabels := extractInlineTags(doc.Body)
	if len(tagLabels) == 0 {
		tagLabels = doc.Meta.Tags
	}
	tags := dedupeTerms(termsFromLabels(tagLabels), true)

	categories := pathCategories(ctx.Repo, file.Path)
	categories = append(categories, termsFromLabels(doc.Meta.Categories)...)
	categories = dedupeTerms(categories, false)

	author := resolveAuthor(doc.Meta.Author, ctx.Owner)

	ogImageURL := doc.Meta.OgImageURLAlt
	if ogImageURL == "" {
		ogImageURL = doc.Meta.OgImageURL
	}

	attachments := make([]model.Attachment, 0, len(doc.Meta.Attachments))
	for _, att := range doc.Meta.Attachments {
		attachments = append(attachments, model.Attachment{
			Label: att.Label,
			URL:   att.URL,
			Type:  attachmentType(att.Type),
		})
	}

	return model.NormalizedPost{
		Slug:           slug,
		Title:          title,
		Summary:        summary,
		Content:        doc.Body,
		SourcePath:     file.Path,
		SourceSHA:      file.SHA,
		Status:         status,
		PublishedAt:    doc.Meta.PublishedAt.Time,
		OgImageURL:     ogImageURL,
		Author:         author,
		Tags:           tags,
		Categories:     categories,
		Attachments:    attachments,
		RawFrontmatter: auditFrontmatter(doc, attachments),
	}, nil
}

// titleFromPath derives a title from the filename: path-decoded,
// extension stripped.
func titleFromPath(path string) string {
	decoded := path
	if unescaped, err := url.PathUnescape(path); err == nil {
		decoded = unescaped
	}
	segments := strings.Split(decoded, "/")
	filename := segments[len(segments)-1]
	title := strings.TrimSpace(extensionPattern.ReplaceAllString(filename, ""))
	if title == "" {
		return "Untitled"
	}
	return title
}

func extractSummaryBlock(body string) string {
	match := summaryBlockPattern.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func extractInlineTags(body string) []string {
	match := inlineTagsPattern.FindStringSubmatch(body)
	if match == nil {
		return nil
	}
	var tags []string
	for _, part := range strings.Split(match[1], ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// summarize prefers the explicit summary and otherwise takes the first
// characters of the body with markdown punctuation stripped.
func summarize(body, explicit string) string {
	if explicit != "" {
		return explicit
	}
	stripped := markdownPunct.ReplaceAllString(body, " ")
	stripped = strings.TrimSpace(whitespaceRuns.ReplaceAllString(stripped, " "))
	runes := []rune(stripped)
	if len(runes) > summaryMaxLength {
		runes = runes[:summaryMaxLength]
	}
	return string(runes)
}

// pathCategories derives categories from the repository name and each
// ancestor directory segment of the file.
func pathCategories(repo, path string) []model.Term {
	decoded := path
	if unescaped, err := url.PathUnescape(path); err == nil {
		decoded = unescaped
	}
	segments := strings.Split(decoded, "/")

	labels := []string{repo}
	for _, dir := range segments[:len(segments)-1] {
		if dir != "" {
			labels = append(labels, dir)
		}
	}
	return dedupeTerms(termsFromLabels(labels), false)
}

func termsFromLabels(labels []string) []model.Term {
	terms := make([]model.Term, 0, len(labels))
	for _, label := range labels {
		terms = append(terms, model.Term{
			Slug:  TermSlug(label),
			Label: label,
		})
	}
	return terms
}

// dedupeTerms collapses terms sharing a slug, preserving first-seen
// order. With lastLabelWins set, a later collision replaces the label
// (the tag merge policy); otherwise the first entry wins (the category
// path-precedence policy).
func dedupeTerms(terms []model.Term, lastLabelWins bool) []model.Term {
	out := make([]model.Term, 0, len(terms))
	index := make(map[string]int, len(terms))
	for _, term := range terms {
		if at, seen := index[term.Slug]; seen {
			if lastLabelWins {
				out[at] = term
			}
			continue
		}
		index[term.Slug] = len(out)
		out = append(out, term)
	}
	return out
}

// resolveAuthor applies the slug resolution chain: explicit slug, then
// github handle, then email, then name, then the repository owner.
func resolveAuthor(meta authorMeta, owner string) model.Author {
	slugSource := firstNonEmpty(meta.Slug, meta.Github, meta.Email, meta.Name, owner)

	displayName := meta.Name
	if displayName == "" {
		displayName = slugSource
	}
	if displayName == "" {
		displayName = owner
	}

	github := meta.Github
	if github == "" {
		github = owner
	}

	return model.Author{
		Slug:           EnsureSlug(slugSource, owner),
		DisplayName:    displayName,
		Email:          meta.Email,
		AvatarURL:      meta.AvatarURL,
		GithubUsername: github,
	}
}

func attachmentType(value string) model.AttachmentType {
	switch model.AttachmentType(value) {
	case model.AttachmentImage, model.AttachmentFile, model.AttachmentLink:
		return model.AttachmentType(value)
	default:
		return model.AttachmentLink
	}
}

// auditFrontmatter returns the JSON-safe preamble payload with the
// normalized publishedAt and attachments overlaid, matching what the
// store persists for debugging.
func auditFrontmatter(doc parsedDocument, attachments []model.Attachment) map[string]any {
	raw := make(map[string]any, len(doc.Raw)+2)
	for key, value := range doc.Raw {
		raw[key] = sanitizeJSON(value)
	}
	if doc.Meta.PublishedAt.Time != nil {
		raw["publishedAt"] = doc.Meta.PublishedAt.Time.Format(time.RFC3339)
	}
	if len(attachments) > 0 || doc.Raw["attachments"] != nil {
		serialized := make([]any, 0, len(attachments))
		for _, att := range attachments {
			serialized = append(serialized, map[string]any{
				"label": att.Label,
				"url":   att.URL,
				"type":  string(att.Type),
			})
		}
		raw["attachments"] = serialized
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
