package video

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

// ErrNoMovie is returned for data without a moov box.
var ErrNoMovie = errors.New("mp4: no movie header")

// ProbeMP4Duration reads the playback duration of an MP4 recording. Plain
// files carry it in mvhd; fragmented output from a pipe leaves mvhd empty, so
// the sample durations of the first video track are summed instead.
func ProbeMP4Duration(data []byte) (time.Duration, error) {
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode mp4: %w", err)
	}

	moov := f.Moov
	if moov == nil && f.Init != nil {
		moov = f.Init.Moov
	}
	if moov == nil || moov.Mvhd == nil {
		return 0, ErrNoMovie
	}
	if mvhd := moov.Mvhd; mvhd.Duration > 0 && mvhd.Timescale > 0 {
		return scale(mvhd.Duration, mvhd.Timescale), nil
	}

	var trackID, timescale uint32
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Mdhd == nil || trak.Tkhd == nil {
			continue
		}
		if trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		trackID, timescale = trak.Tkhd.TrackID, trak.Mdia.Mdhd.Timescale
		break
	}
	if timescale == 0 {
		return 0, fmt.Errorf("%w: no video track", ErrNoMovie)
	}

	var total uint64
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd == nil || traf.Tfhd.TrackID != trackID {
					continue
				}
				for _, trun := range traf.Truns {
					for _, s := range trun.Samples {
						dur := s.Dur
						if dur == 0 {
							dur = traf.Tfhd.DefaultSampleDuration
						}
						total += uint64(dur)
					}
				}
			}
		}
	}
	return scale(total, timescale), nil
}

func scale(units uint64, timescale uint32) time.Duration {
	return time.Duration(float64(units) / float64(timescale) * float64(time.Second))
}
