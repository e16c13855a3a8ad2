package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/corestore/pkg/catalog"
	"github.com/cuemby/corestore/pkg/engine"
	"github.com/cuemby/corestore/pkg/holder"
	"github.com/cuemby/corestore/pkg/ids"
)

// schemaFile is the on-disk shape of a --schema YAML file: the DDL a store
// needs applied before anything in its persistence sink can be inspected or
// replayed, since object-level writes are all pkg/sink ever persists.
type schemaFile struct {
	Tables        []tableDef        `yaml:"tables"`
	Relationships []relationshipDef `yaml:"relationships"`
	Indexes       []indexDef        `yaml:"indexes"`
}

type fieldDef struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Position uint16 `yaml:"position"`
	Optional bool   `yaml:"optional"`
	Repeated bool   `yaml:"repeated"`
}

type tableDef struct {
	Name   string     `yaml:"name"`
	Fields []fieldDef `yaml:"fields"`
}

type relationshipDef struct {
	Name           string `yaml:"name"`
	Parent         string `yaml:"parent"`
	Child          string `yaml:"child"`
	Cardinality    string `yaml:"cardinality"` // "one" or "many"
	FirstChildSlot uint16 `yaml:"first_child_slot"`
	ParentSlot     uint16 `yaml:"parent_slot"`
	NextChildSlot  uint16 `yaml:"next_child_slot"`
	PrevChildSlot  uint16 `yaml:"prev_child_slot"`
	ValueLinked    bool   `yaml:"value_linked"`
	ParentField    uint16 `yaml:"parent_field"`
	ChildField     uint16 `yaml:"child_field"`
}

type indexDef struct {
	Name   string   `yaml:"name"`
	Table  string   `yaml:"table"`
	Fields []uint16 `yaml:"fields"`
	Kind   string   `yaml:"kind"` // "hash" or "range"
	Unique bool     `yaml:"unique"`
}

// loadSchema applies path's table/relationship/index definitions to db. An
// empty path is not an error: a store with no schema file simply starts
// with an empty catalog, same as engine.New on its own.
func loadSchema(path string, db *engine.Database) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}

	typeIDs := make(map[string]ids.TypeID, len(sf.Tables))
	for _, td := range sf.Tables {
		fields := make([]catalog.Field, len(td.Fields))
		for i, fd := range td.Fields {
			kind, err := parseFieldKind(fd.Kind)
			if err != nil {
				return fmt.Errorf("table %s field %s: %w", td.Name, fd.Name, err)
			}
			fields[i] = catalog.Field{
				Name: fd.Name, Kind: kind, Position: ids.FieldPosition(fd.Position),
				Optional: fd.Optional, Repeated: fd.Repeated, Active: true,
			}
		}
		typeID, err := db.CreateTable(td.Name, fields)
		if err != nil {
			return fmt.Errorf("create table %s: %w", td.Name, err)
		}
		typeIDs[td.Name] = typeID
	}

	for _, rd := range sf.Relationships {
		parentType, ok := typeIDs[rd.Parent]
		if !ok {
			return fmt.Errorf("relationship %s: unknown parent table %q", rd.Name, rd.Parent)
		}
		childType, ok := typeIDs[rd.Child]
		if !ok {
			return fmt.Errorf("relationship %s: unknown child table %q", rd.Name, rd.Child)
		}
		card := catalog.CardinalityMany
		if rd.Cardinality == "one" {
			card = catalog.CardinalityOne
		}
		err := db.CreateRelationship(catalog.Relationship{
			Name:           rd.Name,
			ParentType:     parentType,
			ChildType:      childType,
			Cardinality:    card,
			FirstChildSlot: ids.RefOffset(rd.FirstChildSlot),
			ParentSlot:     ids.RefOffset(rd.ParentSlot),
			NextChildSlot:  ids.RefOffset(rd.NextChildSlot),
			PrevChildSlot:  ids.RefOffset(rd.PrevChildSlot),
			IsValueLinked:  rd.ValueLinked,
			ParentFieldPos: ids.FieldPosition(rd.ParentField),
			ChildFieldPos:  ids.FieldPosition(rd.ChildField),
		})
		if err != nil {
			return fmt.Errorf("create relationship %s: %w", rd.Name, err)
		}
	}

	for _, id := range sf.Indexes {
		typeID, ok := typeIDs[id.Table]
		if !ok {
			return fmt.Errorf("index %s: unknown table %q", id.Name, id.Table)
		}
		kind := catalog.IndexKindHash
		if id.Kind == "range" {
			kind = catalog.IndexKindRange
		}
		fields := make([]ids.FieldPosition, len(id.Fields))
		for i, f := range id.Fields {
			fields[i] = ids.FieldPosition(f)
		}
		if _, err := db.CreateIndex(id.Name, typeID, fields, kind, id.Unique); err != nil {
			return fmt.Errorf("create index %s: %w", id.Name, err)
		}
	}
	return nil
}

func parseFieldKind(s string) (holder.Kind, error) {
	switch s {
	case "bool":
		return holder.KindBool, nil
	case "int8":
		return holder.KindInt8, nil
	case "int16":
		return holder.KindInt16, nil
	case "int32":
		return holder.KindInt32, nil
	case "int64":
		return holder.KindInt64, nil
	case "uint8":
		return holder.KindUint8, nil
	case "uint16":
		return holder.KindUint16, nil
	case "uint32":
		return holder.KindUint32, nil
	case "uint64":
		return holder.KindUint64, nil
	case "float32":
		return holder.KindFloat32, nil
	case "float64":
		return holder.KindFloat64, nil
	case "string":
		return holder.KindString, nil
	default:
		return 0, fmt.Errorf("unrecognized field kind %q", s)
	}
}
