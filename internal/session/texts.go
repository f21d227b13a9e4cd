package session

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nextlevelbuilder/linescout/internal/search"
)

// Menu tokens.
const (
	TokenAdd        = "add"
	TokenSearch     = "search"
	TokenSearchOne  = "search_one"
	TokenSearchAll  = "search_all"
	TokenDelete     = "delete"
	TokenList       = "list"
	tokenSearchFile = "search_file:"
	tokenDeleteFile = "delete_file:"
)

// MaxNameBytes keeps "search_file:<name>" within Telegram's 64-byte callback data.
const MaxNameBytes = 48

const (
	msgChooseAction    = "📌 Choose an action:"
	msgSendURL         = "📤 Send me the file URL or upload a file."
	msgInvalidURL      = "⚠️ Please send a valid URL or upload a file."
	msgAskName         = "✏️ What name do you want to give this link?"
	msgEmptyName       = "⚠️ Name cannot be empty."
	msgNoFiles         = "⚠️ No files/links added yet."
	msgNoFilesDelete   = "⚠️ No files to delete."
	msgNoFilesSearch   = "⚠️ No files to search."
	msgFileNotFound    = "⚠️ File not found."
	msgChooseMode      = "Choose search mode:"
	msgSelectSearch    = "Select a file to search:"
	msgSelectDelete    = "Select a file to delete:"
	msgAskPatternAll   = "🔎 Send me the domain/keyword to search across all files."
	msgEmptyPattern    = "⚠️ Search text cannot be empty."
	msgStarting        = "⏳ Starting search..."
	msgCancelled       = "⏹ Search cancelled."
	msgSearchFailed    = "⚠️ Search failed."
	msgUnknownAction   = "⚠️ Unknown action."
	msgUnknownCommand  = "Unknown command. Send /help for the list of commands."
	msgCancelledAction = "Cancelled."
)

const helpText = "<b>linescout</b> searches your text files and links for a word.\n\n" +
	"/start — reset and show the menu\n" +
	"/list — show registered files and links\n" +
	"/cancel — abandon the current step\n" +
	"/help — show this message\n\n" +
	"Use <b>📤 Add Link</b> to register a URL, or just upload a text file. " +
	"Searches are case-insensitive and match whole words only."

var numbers = message.NewPrinter(language.English)

func code(s string) string {
	return "<code>" + html.EscapeString(s) + "</code>"
}

func mainMenu() Menu {
	return Menu{
		Prompt: msgChooseAction,
		Rows: [][]Button{
			{{Label: "📤 Add Link", Token: TokenAdd}, {Label: "🔍 Search", Token: TokenSearch}},
			{{Label: "🗑 Delete", Token: TokenDelete}, {Label: "📋 List", Token: TokenList}},
		},
	}
}

func searchModeMenu() Menu {
	return Menu{
		Prompt: msgChooseMode,
		Rows: [][]Button{
			{{Label: "🔍 Search one file", Token: TokenSearchOne}},
			{{Label: "🔎 Search all files", Token: TokenSearchAll}},
		},
	}
}

func pickMenu(prompt, icon, prefix string, names []string) Menu {
	rows := make([][]Button, 0, len(names))
	for _, n := range names {
		rows = append(rows, []Button{{Label: icon + " " + n, Token: prefix + n}})
	}
	return Menu{Prompt: prompt, Rows: rows}
}

func savedText(name string) string      { return "✅ Link saved as " + code(name) }
func uploadedText(name string) string   { return "✅ File " + code(name) + " uploaded and saved." }
func removedText(name string) string    { return "✅ " + code(name) + " removed." }
func askPatternText(name string) string { return "🔍 Send me the domain/keyword to search in " + code(name) }

func nameTooLongText() string {
	return fmt.Sprintf("⚠️ Name is too long (max %d bytes).", MaxNameBytes)
}

func searchingAllText(pattern string, n int) string {
	return fmt.Sprintf("🔎 Searching for %s across %d files...", code(pattern), n)
}

func listText(s *Session) string {
	entries := s.Links.Entries()
	if len(entries) == 0 {
		return msgNoFiles
	}
	var b strings.Builder
	b.WriteString("📋 Registered files and links:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", code(e.Name), html.EscapeString(e.Locator.String()))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func progressText(p search.Progress) string {
	var b strings.Builder
	b.WriteString("📊 ")
	if p.Percent >= 0 {
		fmt.Fprintf(&b, "%d%% done", p.Percent)
		if p.Total > 0 {
			fmt.Fprintf(&b, " (%s of %s)", humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.Total)))
		}
	} else {
		b.WriteString(numbers.Sprintf("Processed %d lines", p.Lines))
	}
	b.WriteString(numbers.Sprintf(" — found %d", p.Matches))
	return b.String()
}

func aggregateProgressText(p search.Progress) string {
	return code(p.Resource) + ": " + progressText(p)
}

func completeText(n int) string {
	return numbers.Sprintf("✅ Search complete — found %d matches", n)
}

func noResultsText(pattern, name string) string {
	return "❌ No results for " + code(pattern) + " in " + code(name)
}

func noResultsAllText(pattern string) string {
	return "❌ No results for " + code(pattern) + " in any file."
}

func foundCaption(res *search.Result, pattern, name string) string {
	c := numbers.Sprintf("✅ Found %d matches for ", res.Total) + code(pattern) + " in " + code(name)
	return c + truncatedNote(res)
}

func foundAllCaption(res *search.Result, total int) string {
	return numbers.Sprintf("✅ Found %d total matches across all files", total) + truncatedNote(res)
}

func truncatedNote(res *search.Result) string {
	if res == nil || !res.Truncated {
		return ""
	}
	return numbers.Sprintf("\n⚠️ File truncated: only the first %d matches are included.", len(res.Matches))
}

func searchErrorText(name string, err error) string {
	return "⚠️ Error searching " + code(name) + ": " + html.EscapeString(describeError(err))
}

// summaryText renders the per-resource match counts as an aligned table.
func summaryText(sum *search.Summary) string {
	width := 0
	for _, r := range sum.Resources {
		if w := runewidth.StringWidth(r.Name); w > width {
			width = w
		}
	}

	var b strings.Builder
	b.WriteString("📊 Summary for " + code(sum.Pattern) + ":\n<pre>")
	for i, r := range sum.Resources {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(html.EscapeString(runewidth.FillRight(r.Name, width)))
		b.WriteString("  ")
		if r.Err != nil {
			b.WriteString(html.EscapeString("error: " + describeError(r.Err)))
			continue
		}
		b.WriteString(matchesLabel(r.Matches))
	}
	b.WriteString("</pre>")
	return b.String()
}

func matchesLabel(n int) string {
	if n == 1 {
		return "1 match"
	}
	return numbers.Sprintf("%d matches", n)
}

// resultFilename builds "<prefix><pattern>.txt" with the pattern reduced to
// characters that are safe in file names.
func resultFilename(prefix, pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		name = "query"
	}
	return prefix + name + ".txt"
}

// clipName shortens an upload's file name to MaxNameBytes on a rune boundary.
func clipName(name string) string {
	if len(name) <= MaxNameBytes {
		return name
	}
	cut := MaxNameBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
