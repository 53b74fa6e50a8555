package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// readFile parses an on-disk object/node config: "[section]" headers,
// "key = value" lines, "#" comments, UTF-8, with indented continuation
// lines folded into the previous value (multi-line values, per spec.md §6).
func readFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := NewDocument()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	section := ""
	lastKey := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimRight(line, " \t")

		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			continue
		}

		// Continuation: indented line folds onto the previous key's value.
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastKey != "" && section != "" {
			cont := strings.TrimSpace(line)
			body := doc.Body(section)
			doc.Set(section, lastKey, body[lastKey]+"\n"+cont)
			continue
		}

		s := strings.TrimSpace(trimmed)
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			section = strings.TrimSpace(s[1 : len(s)-1])
			lastKey = ""
			continue
		}

		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%s:%d: malformed line %q", path, lineNo, line)
		}
		key := strings.TrimSpace(s[:eq])
		value := strings.TrimSpace(s[eq+1:])
		if section == "" {
			return nil, fmt.Errorf("%s:%d: key %q outside any section", path, lineNo, key)
		}
		doc.Set(section, key, value)
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}
