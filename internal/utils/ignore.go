package utils

import (
	"bufio"
	"os"
	"strings"
)

// IgnoreList holds entries that must never be propagated to a target.
// An entry starting with "tt" or containing ":" matches an ID exactly;
// anything else matches a normalized title.
type IgnoreList struct {
	ids    map[string]string
	titles map[string]string
}

// LoadIgnoreList loads entries from a file, one per line, # for comments
func LoadIgnoreList(path string) (*IgnoreList, error) {
	list := &IgnoreList{ids: map[string]string{}, titles: map[string]string{}}

	// If file doesn't exist, return empty list
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return list, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		list.Add(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// Add registers one entry
func (l *IgnoreList) Add(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" || strings.HasPrefix(entry, "#") {
		return
	}
	if strings.HasPrefix(entry, "tt") || strings.Contains(entry, ":") {
		l.ids[strings.ToLower(entry)] = entry
		return
	}
	l.titles[NormalizeTitle(entry)] = entry
}

// Len returns the number of entries
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.ids) + len(l.titles)
}

// Match checks an item's IDs and title against the list
// Returns (isIgnored, matchedEntry)
func (l *IgnoreList) Match(title string, ids ...string) (bool, string) {
	if l == nil {
		return false, ""
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if entry, ok := l.ids[strings.ToLower(id)]; ok {
			return true, entry
		}
	}
	if title != "" {
		if entry, ok := l.titles[NormalizeTitle(title)]; ok {
			return true, entry
		}
	}
	return false, ""
}
