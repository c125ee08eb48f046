package wal

import (
	"path"
	"sort"
	"strings"

	"github.com/stonebark/stonebark/internal/fileops"
	"github.com/stonebark/stonebark/pkg/seginfo"
)

// segmentPath builds the path of log segment id under dir, reusing the
// teacher's segment-naming convention (pkg/seginfo.GenerateName):
// prefix_NNNNN_timestamp.seg.
func segmentPath(dir, prefix string, id uint32) string {
	return path.Join(dir, seginfo.GenerateName(uint64(id), prefix))
}

// discoverLatestSegment lists dir through fs and returns the highest
// sequence id present and its path, or ok=false if no segment file exists
// yet. This is internal/storage's bootstrap discovery
// (seginfo.GetLastSegmentName's lexicographic-sort-over-zero-padded-names
// trick) redone against the fileops.FileSystem abstraction instead of a
// raw os.Glob, so it works identically against Posix and Memory; it
// reuses seginfo.ParseSegmentID verbatim for the filename-to-id parse
// once a candidate is found.
func discoverLatestSegment(fs fileops.FileSystem, dir, prefix string) (id uint32, segPath string, ok bool) {
	names, err := fs.ReadDir(dir)
	if err != nil {
		return 0, "", false
	}

	dirPrefix := dir
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	var matches []string
	for _, name := range names {
		if dirPrefix != "" && !strings.HasPrefix(name, dirPrefix) {
			continue
		}
		base := path.Base(name)
		if strings.HasPrefix(base, prefix) && strings.HasSuffix(base, ".seg") {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return 0, "", false
	}

	// Zero-padded ids and monotonically increasing timestamps make
	// lexicographic order equal to segment order (pkg/seginfo's own
	// documented invariant).
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	parsedID, err := seginfo.ParseSegmentID(path.Base(latest), prefix)
	if err != nil {
		return 0, "", false
	}
	return uint32(parsedID), latest, true
}
