package protocol

import (
	"encoding/json"
	"fmt"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	DeltaVoxels bool `json:"delta_voxels,omitempty"`
	MaxQueue    int  `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	CurrentWorldID  string      `json:"current_world_id,omitempty"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	ChunkSize  [3]int `json:"chunk_size"`
	Height     int    `json:"height"`
	ObsRadius  int    `json:"obs_radius"`
	DayTicks   int    `json:"day_ticks"`
	Seed       int64  `json:"seed"`
}

// CatalogBlockPalette is the catalog that names voxel palette ids.
const CatalogBlockPalette = "block_palette"

// CATALOG (server -> client). Data is kept raw; only the block palette is decoded.
type CatalogMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Name            string          `json:"name"`
	Digest          string          `json:"digest"`
	Part            int             `json:"part"`
	TotalParts      int             `json:"total_parts"`
	Data            json.RawMessage `json:"data"`
}

// BlockPalette decodes Data as the ordered list of block ids.
func (c CatalogMsg) BlockPalette() ([]string, error) {
	if c.Name != CatalogBlockPalette {
		return nil, fmt.Errorf("catalog %q is not %s", c.Name, CatalogBlockPalette)
	}
	var pal []string
	if err := json.Unmarshal(c.Data, &pal); err != nil {
		return nil, fmt.Errorf("%s: %w", CatalogBlockPalette, err)
	}
	return pal, nil
}
