package web

import (
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/download"
)

// APIObject is the JSON representation of a catalog object.
type APIObject struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	SizeMB    float64 `json:"size"`
	Logo      string  `json:"logo"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func toAPIObject(o catalog.Object) APIObject {
	return APIObject{
		ID:        o.ID,
		Name:      o.Name,
		SizeMB:    o.SizeMB,
		Logo:      o.Logo,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toAPIObjects(objects []catalog.Object) []APIObject {
	out := make([]APIObject, 0, len(objects))
	for _, o := range objects {
		out = append(out, toAPIObject(o))
	}
	return out
}

// APIDownload is the JSON representation of a user's own download.
type APIDownload struct {
	ID           string `json:"id"`
	ObjectID     string `json:"object_id"`
	ObjectName   string `json:"object_name"`
	Progress     int    `json:"progress"`
	CurrentChunk int    `json:"current_chunk"`
	TotalChunks  int    `json:"total_chunks"`
}

// APIStatusResponse is the body of GET /api/download/status.
type APIStatusResponse struct {
	State    string       `json:"state"`
	Download *APIDownload `json:"download"`
}

// APIActiveDownload is one busy session in the monitoring feed, with the
// identifying detail the monitor group is entitled to.
type APIActiveDownload struct {
	ID           string `json:"id"`
	UserToken    string `json:"user_token"`
	ObjectID     string `json:"object_id"`
	ObjectName   string `json:"object_name"`
	Progress     int    `json:"progress"`
	CurrentChunk int    `json:"current_chunk"`
	TotalChunks  int    `json:"total_chunks"`
	StartedAt    string `json:"started_at"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// APIHistoryEntry is one row of a user's download history.
type APIHistoryEntry struct {
	ObjectName  string  `json:"object_name"`
	State       string  `json:"state"`
	Progress    int     `json:"progress"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// APIUserDownloads groups one user's state and history for the monitor view.
type APIUserDownloads struct {
	UserToken    string            `json:"user_token"`
	CurrentState string            `json:"current_state"`
	Current      *APIDownload      `json:"current_download"`
	History      []APIHistoryEntry `json:"download_history"`
}

func toAPIDownload(s *db.DownloadSession) *APIDownload {
	if s == nil {
		return nil
	}
	return &APIDownload{
		ID:           s.ID,
		ObjectID:     s.ObjectID,
		ObjectName:   s.ObjectName,
		Progress:     s.Progress,
		CurrentChunk: s.CurrentChunk,
		TotalChunks:  s.TotalChunks,
	}
}

func toAPIUserDownloads(users []download.UserDownloads) []APIUserDownloads {
	out := make([]APIUserDownloads, 0, len(users))
	for _, u := range users {
		au := APIUserDownloads{
			UserToken:    u.UserToken,
			CurrentState: u.CurrentState,
			Current:      toAPIDownload(u.Current),
			History:      make([]APIHistoryEntry, 0, len(u.History)),
		}
		for _, s := range u.History {
			au.History = append(au.History, APIHistoryEntry{
				ObjectName:  s.ObjectName,
				State:       s.State,
				Progress:    s.Progress,
				StartedAt:   s.StartedAt,
				CompletedAt: s.CompletedAt,
			})
		}
		out = append(out, au)
	}
	return out
}
