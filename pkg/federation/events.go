package federation

import "github.com/google/uuid"

// ClusterDef describes one member cluster inside a federation definition
// as delivered by the accounting service.
type ClusterDef struct {
	Name         string `mapstructure:"name" json:"name"`
	ControlHost  string `mapstructure:"control_host" json:"control_host"`
	ControlPort  int    `mapstructure:"control_port" json:"control_port"`
	FederationID uint32 `mapstructure:"federation_id" json:"federation_id"`
}

// FederationDef is one federation and its full member list.
type FederationDef struct {
	Name     string       `mapstructure:"name" json:"name"`
	Clusters []ClusterDef `mapstructure:"clusters" json:"clusters"`
}

// Update is one membership-update batch. Absence of any entry containing
// the local cluster name means "not part of a federation".
type Update struct {
	// ID correlates log lines across the apply path.
	ID          string
	Federations []FederationDef
}

// NewUpdate wraps federation definitions in an update event with a fresh
// correlation id.
func NewUpdate(feds []FederationDef) *Update {
	return &Update{ID: uuid.NewString(), Federations: feds}
}
