package types

// AddURIRequest is the body of POST /api/downloads/uri
type AddURIRequest struct {
	URI string `json:"uri" binding:"required"`
}

// AddTorrentRequest is the JSON body of POST /api/downloads/torrent
type AddTorrentRequest struct {
	Torrent string `json:"torrent" binding:"required"` // base64 encoded .torrent file
}

// JobsResponse is returned by GET /api/downloads
type JobsResponse struct {
	Jobs    []JobRecord `json:"jobs"`
	Total   int         `json:"total"`
	Version uint64      `json:"version"`
}
