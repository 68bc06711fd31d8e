package vault

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Link is one reference found in a document body.
type Link struct {
	// Target is the link path as written, without alias, heading or block ref.
	Target string
	// Display is the alias or bracket text, if any.
	Display string
	// Line is the full source line the link was found on.
	Line   string
	LineNo int
	Embed  bool
}

var (
	wikiLinkRe = regexp.MustCompile(`(!?)\[\[([^\[\]|#^]*)((?:#|\^)[^\[\]|]*)?(?:\|([^\[\]]*))?\]\]`)
	mdLinkRe   = regexp.MustCompile(`(!?)\[([^\[\]]*)\]\(<?([^()<>\s]+)>?\)`)
	tagRe      = regexp.MustCompile(`(?:^|[\s,])#([\p{L}_][\p{L}\p{N}_/-]*)`)
	schemeRe   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// splitFrontmatter separates a leading YAML block delimited by "---" lines.
func splitFrontmatter(src []byte) (front []byte, body []byte, bodyStart int) {
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return nil, src, 0
	}
	lines := bytes.SplitAfter(src, []byte("\n"))
	offset := len(lines[0])
	for i := 1; i < len(lines); i++ {
		trimmed := bytes.TrimRight(lines[i], "\r\n")
		if bytes.Equal(trimmed, []byte("---")) || bytes.Equal(trimmed, []byte("...")) {
			return src[len(lines[0]):offset], src[offset+len(lines[i]):], i + 1
		}
		offset += len(lines[i])
	}
	return nil, src, 0
}

// parseFrontmatter decodes YAML frontmatter into a generic map.
func parseFrontmatter(front []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(front)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal(front, &out); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// scanBody extracts links and inline tags. Fenced code blocks are skipped.
func scanBody(body []byte, firstLine int) ([]Link, []string) {
	var links []Link
	var tags []string
	seenTag := make(map[string]struct{})

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	inFence := false
	lineNo := firstLine
	for sc.Scan() {
		line := sc.Text()
		lineNo++
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		for _, m := range wikiLinkRe.FindAllStringSubmatch(line, -1) {
			target := strings.TrimSpace(m[2])
			if target == "" {
				continue // same-document heading link
			}
			links = append(links, Link{
				Target:  target,
				Display: m[4],
				Line:    line,
				LineNo:  lineNo,
				Embed:   m[1] == "!",
			})
		}
		for _, m := range mdLinkRe.FindAllStringSubmatch(line, -1) {
			raw := m[3]
			if schemeRe.MatchString(raw) || strings.HasPrefix(raw, "#") {
				continue
			}
			if i := strings.IndexAny(raw, "#^"); i >= 0 {
				raw = raw[:i]
			}
			if unescaped, err := url.PathUnescape(raw); err == nil {
				raw = unescaped
			}
			if raw == "" {
				continue
			}
			links = append(links, Link{
				Target:  raw,
				Display: m[2],
				Line:    line,
				LineNo:  lineNo,
				Embed:   m[1] == "!",
			})
		}
		for _, m := range tagRe.FindAllStringSubmatch(line, -1) {
			if _, dup := seenTag[m[1]]; dup {
				continue
			}
			seenTag[m[1]] = struct{}{}
			tags = append(tags, m[1])
		}
	}
	return links, tags
}

// frontmatterTags reads the "tags" (or "tag") frontmatter field, which may be
// a list or a comma/space separated string.
func frontmatterTags(front map[string]any) []string {
	var out []string
	for _, key := range []string{"tags", "tag"} {
		switch v := front[key].(type) {
		case string:
			for _, t := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
				out = append(out, strings.TrimPrefix(t, "#"))
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, strings.TrimPrefix(s, "#"))
				}
			}
		}
	}
	return out
}

// frontmatterAliases reads "aliases"/"alias".
func frontmatterAliases(front map[string]any) []string {
	var out []string
	for _, key := range []string{"aliases", "alias"} {
		switch v := front[key].(type) {
		case string:
			out = append(out, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// nameOf maps a vault path to a document name: markdown files drop their
// extension, everything else keeps it.
func nameOf(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if isMarkdown(p) {
		return strings.TrimSuffix(p, path.Ext(p))
	}
	return p
}

func isMarkdown(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".bmp": {},
}

// IsImage reports whether p has an image extension.
func IsImage(p string) bool {
	_, ok := imageExts[strings.ToLower(path.Ext(p))]
	return ok
}
