package churn

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// RecencyHalfLifeDays is the exponential decay half-life used by
// recencyWeightedFreq: a commit this many days old contributes half the
// weight of a commit made today.
const RecencyHalfLifeDays = 30.0

var bugFixPattern = regexp.MustCompile(`(?i)\b(fix|bug|hotfix|patch|resolve|resolves|resolved|issue)\b`)

var taskIDPattern = regexp.MustCompile(`(?i)(#\d+|[A-Z]{2,}-\d+)`)

// IsBugFixCommit reports whether a commit message looks like a bug fix.
func IsBugFixCommit(message string) bool {
	return bugFixPattern.MatchString(message)
}

// ExtractTaskIDs pulls issue/task references (e.g. "#123", "JIRA-456") out
// of a commit message body.
func ExtractTaskIDs(message string) []string {
	matches := taskIDPattern.FindAllString(message, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ComputeFileMetadata aggregates a file's raw commit history into
// FileMetadata. currentLOC is the file's current line count (the indexer
// uses the maximum end_line across the file's chunks as a proxy); it is
// only used to normalize relativeChurn and changeDensity and may be 0 for
// an unknown/deleted file, in which case those ratios are reported as 0.
func ComputeFileMetadata(data FileChurnData, currentLOC int) FileMetadata {
	commits := data.Commits
	if len(commits) == 0 {
		return FileMetadata{}
	}

	sorted := make([]CommitRecord, len(commits))
	copy(sorted, commits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	firstCreatedAt := sorted[0].Date
	lastModifiedAt := sorted[len(sorted)-1].Date

	authorCounts := make(map[string]int)
	var linesAdded, linesDeleted, bugFixes int
	var taskIDs []string
	monthlyChurn := make(map[string]int)
	var recencyWeighted float64

	for _, c := range sorted {
		authorCounts[c.Author]++
		linesAdded += c.LinesAdded
		linesDeleted += c.LinesDeleted
		if IsBugFixCommit(c.Message) {
			bugFixes++
		}
		taskIDs = append(taskIDs, ExtractTaskIDs(c.Message)...)

		monthKey := c.Date.Format("2006-01")
		monthlyChurn[monthKey] += c.LinesAdded + c.LinesDeleted

		ageDays := lastModifiedAt.Sub(c.Date).Hours() / 24
		recencyWeighted += math.Pow(0.5, ageDays/RecencyHalfLifeDays)
	}

	authors := make([]string, 0, len(authorCounts))
	dominantAuthor := ""
	dominantCount := 0
	for author, count := range authorCounts {
		authors = append(authors, author)
		if count > dominantCount {
			dominantCount = count
			dominantAuthor = author
		}
	}
	sort.Strings(authors)

	totalChurn := linesAdded + linesDeleted
	var relativeChurn, changeDensity float64
	if currentLOC > 0 {
		relativeChurn = float64(totalChurn) / float64(currentLOC)
		changeDensity = float64(totalChurn) / (float64(currentLOC) / 1000.0)
	}

	ageDays := int(math.Round(lastModifiedAt.Sub(firstCreatedAt).Hours() / 24))
	if ageDays < 0 {
		ageDays = 0
	}

	return FileMetadata{
		DominantAuthor:      dominantAuthor,
		DominantAuthorPct:   float64(dominantCount) / float64(len(sorted)) * 100,
		Authors:             authors,
		ContributorCount:    len(authorCounts),
		LastModifiedAt:      lastModifiedAt,
		FirstCreatedAt:      firstCreatedAt,
		AgeDays:             ageDays,
		CommitCount:         len(sorted),
		LinesAdded:          linesAdded,
		LinesDeleted:        linesDeleted,
		RelativeChurn:       relativeChurn,
		RecencyWeightedFreq: recencyWeighted,
		ChangeDensity:       changeDensity,
		ChurnVolatility:     monthlyStdDev(monthlyChurn),
		BugFixRate:          float64(bugFixes) / float64(len(sorted)) * 100,
		TaskIds:             dedupeStrings(taskIDs),
	}
}

func monthlyStdDev(monthly map[string]int) float64 {
	if len(monthly) == 0 {
		return 0
	}
	var sum float64
	for _, v := range monthly {
		sum += float64(v)
	}
	mean := sum / float64(len(monthly))

	var variance float64
	for _, v := range monthly {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(monthly))
	return math.Sqrt(variance)
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// StripFirstLine returns the first line of a commit message, used when a
// caller wants just the subject line for logging or diagnostics.
func StripFirstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}
