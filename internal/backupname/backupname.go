// Package backupname encodes and decodes the timestamped names given to
// previous versions of an auxiliary table.
//
// A backup of root R taken at local wall-clock instant t is named
// R_YYYY_MM_DD_HH_MM_SS_uuuuuu. Names that match this pattern are never
// treated as roots.
package backupname

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// timestampLayout is formatted with a decimal point and stored with an
// underscore in its place.
const timestampLayout = "2006_01_02_15_04_05.000000"

var backupPattern = regexp.MustCompile(`^(.+)_(\d{4}_\d{2}_\d{2}_\d{2}_\d{2}_\d{2}_\d{6})$`)

// Backup is a parsed backup table name
type Backup struct {
	Name      string
	Root      string
	Timestamp time.Time
}

// ParseError is returned for names that are not backup names
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%q is not a backup name: %s", e.Name, e.Reason)
}

// Make returns the backup name for root at instant now
func Make(root string, now time.Time) string {
	stamp := strings.Replace(now.Format(timestampLayout), ".", "_", 1)
	return root + "_" + stamp
}

// Parse splits a backup name into its root and local timestamp
func Parse(name string) (Backup, error) {
	m := backupPattern.FindStringSubmatch(name)
	if m == nil {
		return Backup{}, &ParseError{Name: name, Reason: "no timestamp suffix"}
	}

	root, stamp := m[1], m[2]
	if backupPattern.MatchString(root) {
		return Backup{}, &ParseError{Name: name, Reason: "root is itself a backup name"}
	}

	// The last underscore separates seconds from microseconds
	cut := strings.LastIndex(stamp, "_")
	ts, err := time.ParseInLocation(timestampLayout, stamp[:cut]+"."+stamp[cut+1:], time.Local)
	if err != nil {
		return Backup{}, &ParseError{Name: name, Reason: err.Error()}
	}

	return Backup{Name: name, Root: root, Timestamp: ts}, nil
}

// IsBackup reports whether name is a well-formed backup name
func IsBackup(name string) bool {
	_, err := Parse(name)
	return err == nil
}

// IsRoot reports whether name can be a root table name
func IsRoot(name string) bool {
	return name != "" && !backupPattern.MatchString(name)
}

// RootOf returns the root a name belongs to: the name itself for a root,
// the captured root for a backup and "" for anything else.
func RootOf(name string) string {
	if b, err := Parse(name); err == nil {
		return b.Root
	}
	if IsRoot(name) {
		return name
	}
	return ""
}

// SortNewestFirst orders backups by timestamp descending, breaking ties by name
func SortNewestFirst(backups []Backup) {
	sort.SliceStable(backups, func(i, j int) bool {
		if backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
}

// Partition splits table names into roots and backups grouped by root.
// Names that are neither are returned as ignored. Each backup group is
// sorted newest first.
func Partition(names []string) (roots []string, backups map[string][]Backup, ignored []string) {
	backups = make(map[string][]Backup)
	for _, name := range names {
		if b, err := Parse(name); err == nil {
			backups[b.Root] = append(backups[b.Root], b)
			continue
		}
		if IsRoot(name) {
			roots = append(roots, name)
			continue
		}
		ignored = append(ignored, name)
	}

	sort.Strings(roots)
	for root := range backups {
		SortNewestFirst(backups[root])
	}
	return roots, backups, ignored
}

// Family returns the backups of root among names, newest first
func Family(names []string, root string) []Backup {
	var family []Backup
	for _, name := range names {
		if b, err := Parse(name); err == nil && b.Root == root {
			family = append(family, b)
		}
	}
	SortNewestFirst(family)
	return family
}
