// Package kinematics computes end-effector poses and velocities from joint
// samples over a serial chain built from a robot description.
package kinematics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// JointType identifies how a joint moves its child link.
type JointType string

const (
	Revolute   JointType = "revolute"
	Continuous JointType = "continuous"
	Prismatic  JointType = "prismatic"
	Fixed      JointType = "fixed"
)

// Movable reports whether the joint contributes a degree of freedom.
func (t JointType) Movable() bool {
	return t == Revolute || t == Continuous || t == Prismatic
}

// Origin is the fixed transform from a joint's parent link to the joint
// frame, expressed as a translation and URDF roll/pitch/yaw angles.
type Origin struct {
	XYZ [3]float64 `yaml:"xyz"`
	RPY [3]float64 `yaml:"rpy"`
}

// JointSpec describes one joint of the robot description.
type JointSpec struct {
	Name   string     `yaml:"name"`
	Type   JointType  `yaml:"type"`
	Parent string     `yaml:"parent"`
	Child  string     `yaml:"child"`
	Origin Origin     `yaml:"origin"`
	Axis   [3]float64 `yaml:"axis"`
}

// LinkSpec names one rigid body of the robot description.
type LinkSpec struct {
	Name string `yaml:"name"`
}

// Description is a tree of links connected by joints. It carries the same
// information a URDF kinematic tree does, without geometry or inertia.
type Description struct {
	Name   string      `yaml:"name"`
	Links  []LinkSpec  `yaml:"links"`
	Joints []JointSpec `yaml:"joints"`
}

var (
	// ErrEmptyDescription is returned for descriptions without joints.
	ErrEmptyDescription = errors.New("robot description has no joints")
	// ErrUnknownLink is returned when a requested link is not in the description.
	ErrUnknownLink = errors.New("unknown link")
	// ErrNoChain is returned when no serial chain connects the requested links.
	ErrNoChain = errors.New("no kinematic chain between links")
)

const maxDescriptionSize = 1 * 1024 * 1024 // 1MB

// LoadDescription reads a YAML robot description from path.
func LoadDescription(path string) (*Description, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("robot description must have .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat robot description: %w", err)
	}
	if info.Size() > maxDescriptionSize {
		return nil, fmt.Errorf("robot description too large: %d bytes (max %d)", info.Size(), maxDescriptionSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read robot description: %w", err)
	}
	return ParseDescription(data)
}

// ParseDescription decodes and validates a YAML robot description.
func ParseDescription(data []byte) (*Description, error) {
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse robot description: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Validate checks joint types, axes and the tree structure.
func (d *Description) Validate() error {
	if len(d.Joints) == 0 {
		return ErrEmptyDescription
	}

	declared := make(map[string]bool, len(d.Links))
	for _, l := range d.Links {
		if l.Name == "" {
			return errors.New("link with empty name")
		}
		declared[l.Name] = true
	}

	names := make(map[string]bool, len(d.Joints))
	children := make(map[string]string, len(d.Joints))
	for _, j := range d.Joints {
		if j.Name == "" {
			return errors.New("joint with empty name")
		}
		if names[j.Name] {
			return fmt.Errorf("duplicate joint %q", j.Name)
		}
		names[j.Name] = true

		switch j.Type {
		case Revolute, Continuous, Prismatic:
			if j.Axis == [3]float64{} {
				return fmt.Errorf("joint %q: %s joint needs a non-zero axis", j.Name, j.Type)
			}
		case Fixed:
		default:
			return fmt.Errorf("joint %q: unsupported type %q", j.Name, j.Type)
		}

		if j.Parent == "" || j.Child == "" {
			return fmt.Errorf("joint %q: parent and child links are required", j.Name)
		}
		if j.Parent == j.Child {
			return fmt.Errorf("joint %q: parent and child are both %q", j.Name, j.Parent)
		}
		if len(declared) > 0 && (!declared[j.Parent] || !declared[j.Child]) {
			return fmt.Errorf("joint %q: %w (%s -> %s)", j.Name, ErrUnknownLink, j.Parent, j.Child)
		}
		if prev, ok := children[j.Child]; ok {
			return fmt.Errorf("link %q has two parent joints (%q, %q)", j.Child, prev, j.Name)
		}
		children[j.Child] = j.Name
	}
	return nil
}

// HasLink reports whether name appears as a declared link or as either end
// of a joint.
func (d *Description) HasLink(name string) bool {
	for _, l := range d.Links {
		if l.Name == name {
			return true
		}
	}
	for _, j := range d.Joints {
		if j.Parent == name || j.Child == name {
			return true
		}
	}
	return false
}
