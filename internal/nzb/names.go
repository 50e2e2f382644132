package nzb

import (
	"html"
	"path/filepath"
	"regexp"
	"strings"
)

// TempFilePrefix starts every temporary working file name.
const TempFilePrefix = "nzbleecher-tmp-"

var (
	reYenc     = regexp.MustCompile(`(?i)\s+yenc.*$`)
	reLead     = regexp.MustCompile(`^\[\d+/\d+\]\s+`)
	reBadChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	reMsgID    = regexp.MustCompile(`^msgid_\d+_`)
	reParVol   = regexp.MustCompile(`(?i)\.vol\d+[+-]\d+\.par2$`)
)

// ArchiveName derives the pretty archive name from an NZB path.
func ArchiveName(nzbFileName string) string {
	name := filepath.Base(nzbFileName)
	if strings.EqualFold(filepath.Ext(name), ".nzb") {
		name = name[:len(name)-len(".nzb")]
	}
	return reMsgID.ReplaceAllString(name, "")
}

// SanitizeFileName strips OS-illegal characters and any directory part.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = reBadChars.ReplaceAllString(name, "_")
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// SubjectFileName guesses a display filename from a Usenet subject line.
func SubjectFileName(subject string) string {
	res := html.UnescapeString(subject)

	// Try pattern A: Contents inside double quotes
	firstQuote := strings.Index(res, "\"")
	lastQuote := strings.LastIndex(res, "\"")
	if firstQuote != -1 && lastQuote != -1 && firstQuote < lastQuote {
		res = res[firstQuote+1 : lastQuote]
	} else {
		// Pattern B: strip [1/14] counters and the yenc suffix
		res = reYenc.ReplaceAllString(res, "")
		res = reLead.ReplaceAllString(res, "")
	}

	res = reBadChars.ReplaceAllString(res, "_")
	return strings.TrimSpace(res)
}

// IsRepairFile reports whether name looks like a par2 volume.
func IsRepairFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".par2")
}

// IsRepairIndex reports whether name is a par2 index file rather than a
// recovery volume.
func IsRepairIndex(name string) bool {
	return IsRepairFile(name) && !reParVol.MatchString(name)
}
