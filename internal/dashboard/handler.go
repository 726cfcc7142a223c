package dashboard

import (
	"encoding/json"
	"time"

	"github.com/steveyegge/clusterconfig/internal/remote"
)

// RemoteUpdateData is the payload of a remote update message.
type RemoteUpdateData struct {
	Zone        string    `json:"zone"`
	Replica     string    `json:"replica"`
	Protocol    string    `json:"protocol"`
	Version     time.Time `json:"version"`
	Patch       bool      `json:"patch"`
	Subtrees    int       `json:"subtrees,omitempty"`
	Size        int       `json:"size"`
	Description string    `json:"description,omitempty"`
}

// OnRemoteUpdate broadcasts an accepted remote payload to every
// connection. It has the signature of a client update hook.
func (s *Server) OnRemoteUpdate(ev remote.UpdateEvent) {
	data, err := json.Marshal(RemoteUpdateData{
		Zone:        ev.Zone,
		Replica:     ev.Replica,
		Protocol:    ev.Protocol.String(),
		Version:     ev.Version,
		Patch:       ev.Patch,
		Subtrees:    ev.Subtrees,
		Size:        ev.Size,
		Description: ev.Description,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to marshal remote update")
		return
	}
	s.Broadcast(Message{
		Type:      MessageTypeRemoteUpdate,
		Timestamp: ev.ReceivedAt,
		Data:      data,
	})
}
