package types

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/pkg/errors"
)

// JobStatus represents the state aria2 reports for a download
type JobStatus string

const (
	JobStatusActive   JobStatus = "active"
	JobStatusWaiting  JobStatus = "waiting"
	JobStatusPaused   JobStatus = "paused"
	JobStatusError    JobStatus = "error"
	JobStatusComplete JobStatus = "complete"
	JobStatusRemoved  JobStatus = "removed"
)

// JobStatuses lists every status in display order.
var JobStatuses = []JobStatus{
	JobStatusActive,
	JobStatusWaiting,
	JobStatusPaused,
	JobStatusError,
	JobStatusComplete,
	JobStatusRemoved,
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	return slices.Contains(JobStatuses, s)
}

// Finished reports whether the job left the download queue for good
func (s JobStatus) Finished() bool {
	return s == JobStatusComplete || s == JobStatusError || s == JobStatusRemoved
}

func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "status must be a string")
	}
	status := JobStatus(raw)
	if !status.Valid() {
		return errors.Errorf("unknown status %q", raw)
	}
	*s = status
	return nil
}

// Uint64 is an unsigned integer carried on the wire as a decimal string.
// Decoding also accepts a bare JSON number.
type Uint64 uint64

// ParseUint64 parses a strict base-10 representation: digits only, no sign
// and no leading zeros.
func ParseUint64(s string) (Uint64, error) {
	if s == "" {
		return 0, errors.New("empty number")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errors.Errorf("invalid digit %q in %q", s[i], s)
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, errors.Errorf("leading zero in %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", s)
	}
	return Uint64(v), nil
}

func (u Uint64) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return strconv.AppendQuote(nil, u.String()), nil
}

func (u *Uint64) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := ParseUint64(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// JobRecord is one aria2 download as seen by viewers
type JobRecord struct {
	GID             string
	Status          JobStatus
	TotalLength     Uint64
	CompletedLength Uint64
	DownloadSpeed   Uint64
	UploadSpeed     Uint64
	Connections     Uint64
	NumPieces       Uint64
	PieceLength     Uint64
	NumSeeders      *Uint64
	Dir             string
	Files           []string
	BittorrentName  string
	ErrorCode       string
	ErrorMessage    string
}

// counterKeys are always reported by aria2; numSeeders is the only optional one
var counterKeys = []string{
	"totalLength", "completedLength", "downloadSpeed", "uploadSpeed",
	"connections", "numPieces", "pieceLength",
}

func requireCounters(gid string, data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	for _, k := range counterKeys {
		if _, ok := keys[k]; !ok {
			return errors.Errorf("job %s: missing %s", gid, k)
		}
	}
	return nil
}

// wireJob mirrors the record shape returned by aria2.tellStatus
type wireJob struct {
	GID             string          `json:"gid"`
	Status          JobStatus       `json:"status"`
	TotalLength     Uint64          `json:"totalLength"`
	CompletedLength Uint64          `json:"completedLength"`
	DownloadSpeed   Uint64          `json:"downloadSpeed"`
	UploadSpeed     Uint64          `json:"uploadSpeed"`
	Connections     Uint64          `json:"connections"`
	NumPieces       Uint64          `json:"numPieces"`
	PieceLength     Uint64          `json:"pieceLength"`
	NumSeeders      *Uint64         `json:"numSeeders,omitempty"`
	Dir             string          `json:"dir"`
	Files           []wireFile      `json:"files"`
	Bittorrent      *wireBittorrent `json:"bittorrent,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

type wireFile struct {
	Path string `json:"path"`
}

type wireBittorrent struct {
	Info *wireTorrentInfo `json:"info,omitempty"`
}

type wireTorrentInfo struct {
	Name string `json:"name"`
}

func (j JobRecord) MarshalJSON() ([]byte, error) {
	w := wireJob{
		GID:             j.GID,
		Status:          j.Status,
		TotalLength:     j.TotalLength,
		CompletedLength: j.CompletedLength,
		DownloadSpeed:   j.DownloadSpeed,
		UploadSpeed:     j.UploadSpeed,
		Connections:     j.Connections,
		NumPieces:       j.NumPieces,
		PieceLength:     j.PieceLength,
		NumSeeders:      j.NumSeeders,
		Dir:             j.Dir,
		Files:           make([]wireFile, len(j.Files)),
		ErrorCode:       j.ErrorCode,
		ErrorMessage:    j.ErrorMessage,
	}
	for i, p := range j.Files {
		w.Files[i] = wireFile{Path: p}
	}
	if j.BittorrentName != "" {
		w.Bittorrent = &wireBittorrent{Info: &wireTorrentInfo{Name: j.BittorrentName}}
	}
	return json.Marshal(w)
}

func (j *JobRecord) UnmarshalJSON(data []byte) error {
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.GID == "" {
		return errors.New("missing gid")
	}
	if w.Status == "" {
		return errors.Errorf("job %s: missing status", w.GID)
	}
	if err := requireCounters(w.GID, data); err != nil {
		return err
	}

	rec := JobRecord{
		GID:             w.GID,
		Status:          w.Status,
		TotalLength:     w.TotalLength,
		CompletedLength: w.CompletedLength,
		DownloadSpeed:   w.DownloadSpeed,
		UploadSpeed:     w.UploadSpeed,
		Connections:     w.Connections,
		NumPieces:       w.NumPieces,
		PieceLength:     w.PieceLength,
		NumSeeders:      w.NumSeeders,
		Dir:             w.Dir,
		ErrorCode:       w.ErrorCode,
		ErrorMessage:    w.ErrorMessage,
	}
	if len(w.Files) > 0 {
		rec.Files = make([]string, len(w.Files))
		for i, f := range w.Files {
			rec.Files[i] = f.Path
		}
	}
	if w.Bittorrent != nil && w.Bittorrent.Info != nil {
		rec.BittorrentName = w.Bittorrent.Info.Name
	}
	*j = rec
	return nil
}

// DecodeJob decodes a single aria2 status record
func DecodeJob(raw []byte) (JobRecord, error) {
	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return JobRecord{}, errors.Wrap(err, "decode job")
	}
	return rec, nil
}

// PeekGID extracts the gid from a raw record without validating the rest,
// so malformed records can still be reported by id.
func PeekGID(raw []byte) string {
	var head struct {
		GID string `json:"gid"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.GID
}

// Name returns the best human readable label for the job
func (j JobRecord) Name() string {
	if j.BittorrentName != "" {
		return j.BittorrentName
	}
	for _, p := range j.Files {
		if p != "" {
			return p
		}
	}
	return j.GID
}

// Progress returns completion in percent, 0 while the size is unknown
func (j JobRecord) Progress() float64 {
	if j.TotalLength == 0 {
		return 0
	}
	return float64(j.CompletedLength) / float64(j.TotalLength) * 100
}

// Clone returns a deep copy
func (j JobRecord) Clone() JobRecord {
	c := j
	if j.NumSeeders != nil {
		n := *j.NumSeeders
		c.NumSeeders = &n
	}
	if j.Files != nil {
		c.Files = slices.Clone(j.Files)
	}
	return c
}

// Equal compares two records by value
func (j JobRecord) Equal(o JobRecord) bool {
	if j.GID != o.GID ||
		j.Status != o.Status ||
		j.TotalLength != o.TotalLength ||
		j.CompletedLength != o.CompletedLength ||
		j.DownloadSpeed != o.DownloadSpeed ||
		j.UploadSpeed != o.UploadSpeed ||
		j.Connections != o.Connections ||
		j.NumPieces != o.NumPieces ||
		j.PieceLength != o.PieceLength ||
		j.Dir != o.Dir ||
		j.BittorrentName != o.BittorrentName ||
		j.ErrorCode != o.ErrorCode ||
		j.ErrorMessage != o.ErrorMessage {
		return false
	}
	if (j.NumSeeders == nil) != (o.NumSeeders == nil) {
		return false
	}
	if j.NumSeeders != nil && *j.NumSeeders != *o.NumSeeders {
		return false
	}
	return slices.Equal(j.Files, o.Files)
}
