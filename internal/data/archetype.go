package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Archetype holds static data for an agent type loaded from YAML.
type Archetype struct {
	ID        int32   `yaml:"id"`
	Name      string  `yaml:"name"`
	HP        uint16  `yaml:"hp"`
	Speed     float32 `yaml:"speed"`
	Behavior  string  `yaml:"behavior"` // lua script name under the script dir
	Networked bool    `yaml:"networked"`
}

// SpawnEntry defines where and how many agents to spawn at boot.
type SpawnEntry struct {
	ArchetypeID int32   `yaml:"archetype_id"`
	X           float32 `yaml:"x"`
	Y           float32 `yaml:"y"`
	Count       int     `yaml:"count"`
	Spread      float32 `yaml:"spread"` // random placement radius around x, y
}

type archetypeListFile struct {
	Archetypes []Archetype `yaml:"archetypes"`
}

type spawnListFile struct {
	Spawns []SpawnEntry `yaml:"spawns"`
}

// ArchetypeTable holds all archetypes indexed by ID.
type ArchetypeTable struct {
	archetypes map[int32]*Archetype
}

// LoadArchetypeTable loads archetypes from a YAML file.
func LoadArchetypeTable(path string) (*ArchetypeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archetype_list: %w", err)
	}
	var f archetypeListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse archetype_list: %w", err)
	}
	t := &ArchetypeTable{archetypes: make(map[int32]*Archetype, len(f.Archetypes))}
	for i := range f.Archetypes {
		a := &f.Archetypes[i]
		t.archetypes[a.ID] = a
	}
	return t, nil
}

// Get returns an archetype by ID, or nil if not found.
func (t *ArchetypeTable) Get(id int32) *Archetype {
	return t.archetypes[id]
}

// Count returns the number of loaded archetypes.
func (t *ArchetypeTable) Count() int {
	return len(t.archetypes)
}

// LoadSpawnList loads spawn entries from a YAML file.
func LoadSpawnList(path string) ([]SpawnEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn_list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spawn_list: %w", err)
	}
	return f.Spawns, nil
}
