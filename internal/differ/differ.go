// Package differ truncates a newest-first record stream at a previously
// stored watermark, leaving only the records that are new since then.
package differ

import (
	"fmt"
	"iter"

	"github.com/JakeFAU/content-crawler/internal/crawler"
)

// Options tunes a diff.
type Options struct {
	// MaxScan bounds how many records may be read without meeting the
	// watermark. Zero means unbounded.
	MaxScan int
}

// Outcome is the ordered prefix preceding the watermark.
type Outcome struct {
	Records []crawler.Record
	// WatermarkFound is false when the stream ended without a match; Records
	// then holds the whole stream.
	WatermarkFound bool
	// Scanned counts records read, including the watermark itself.
	Scanned int
}

// Diff consumes records in emission order until one has the same content as
// watermark. The match and everything after it are discarded and the stream
// is abandoned, so no further pages are requested.
func Diff(records iter.Seq2[crawler.Record, error], watermark crawler.Record, opts Options) (Outcome, error) {
	var out Outcome
	for rec, err := range records {
		if err != nil {
			return Outcome{}, err
		}
		out.Scanned++
		if rec.SameContent(watermark) {
			out.WatermarkFound = true
			return out, nil
		}
		if opts.MaxScan > 0 && out.Scanned >= opts.MaxScan {
			return Outcome{}, crawler.NewFault(crawler.ErrWatermarkLost, watermark.Source, "diff",
				fmt.Errorf("watermark %s not among the newest %d records", watermark.Key(), opts.MaxScan))
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}
