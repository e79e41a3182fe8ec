package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prokashpul/prompts/core/llm"
)

type HistoryEntry struct {
	Time     time.Time
	Provider llm.ProviderID
	Mode     llm.InputKind
	Source   string
	Prompts  []string
}

// HistoryManager keeps the most recent generations per chat and user.
type HistoryManager struct {
	mu         sync.Mutex
	entries    map[string][]HistoryEntry
	maxEntries int
	now        func() time.Time
}

func NewHistoryManager(maxEntries int) *HistoryManager {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &HistoryManager{
		entries:    make(map[string][]HistoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func historyKey(chatID, userID string) string {
	return chatID + "|" + userID
}

func (hm *HistoryManager) Add(chatID, userID string, entry HistoryEntry) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if entry.Time.IsZero() {
		entry.Time = hm.now()
	}
	key := historyKey(chatID, userID)
	list := append(hm.entries[key], entry)
	if len(list) > hm.maxEntries {
		list = list[len(list)-hm.maxEntries:]
	}
	hm.entries[key] = list
}

// Recent returns a copy of the stored entries, newest first.
func (hm *HistoryManager) Recent(chatID, userID string) []HistoryEntry {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	list := hm.entries[historyKey(chatID, userID)]
	out := make([]HistoryEntry, len(list))
	for i, e := range list {
		out[len(list)-1-i] = e
	}
	return out
}

func (hm *HistoryManager) Clear(chatID, userID string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	delete(hm.entries, historyKey(chatID, userID))
}

func FormatHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "No prompts generated yet."
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "🕘 %s · %s · %s", e.Time.Format("2006-01-02 15:04"), e.Provider, e.Mode)
		if e.Source != "" {
			fmt.Fprintf(&b, " · %s", e.Source)
		}
		b.WriteString("\n")
		for j, p := range e.Prompts {
			fmt.Fprintf(&b, "%d. %s\n", j+1, p)
		}
	}
	return b.String()
}
