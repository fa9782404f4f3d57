// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/l4s-pdcp/marker"
	"github.com/pion/transport/v3/vnet"
)

//go:embed phases/*.json
var embeddedPhases embed.FS

// pathCharacteristics defines the network characteristics for a run.
type pathCharacteristics struct {
	referenceCapacity int
	phases            []phase
}

var (
	errInvalidDuration  = errors.New("durationSeconds must be greater than 0")
	errInvalidCapacity  = errors.New("capacityRatio must be between 0 and 100")
	errInvalidMaxBurst  = errors.New("maxBurstKbps must be greater than 0")
	errInvalidDataLoss  = errors.New("dataLossRate must be between 0 and 100")
	errInvalidThreshold = errors.New("markThresholdMs must be non-negative")
	errInvalidFilePath  = errors.New("invalid file path: directory traversal not allowed")
	errNoPhases         = errors.New("phase file contains no phases")
)

// GetPathCharacteristics parses the phases from phaseFile. Names under
// phases/ are read from the embedded set, anything else from disk.
// referenceCapacity is the capacity in bits per second a capacityRatio of 1
// refers to.
func GetPathCharacteristics(phaseFile string, referenceCapacity int) (pathCharacteristics, error) {
	phases, err := parsePhases(phaseFile)
	if err != nil {
		return pathCharacteristics{}, fmt.Errorf("parse %v: %w", phaseFile, err)
	}

	return pathCharacteristics{
		referenceCapacity: referenceCapacity,
		phases:            phases,
	}, nil
}

func parsePhases(phaseFile string) ([]phase, error) {
	cleanPath := filepath.Clean(phaseFile)
	if strings.Contains(cleanPath, "..") {
		return nil, errInvalidFilePath
	}

	jsonData, err := readPhaseFile(cleanPath)
	if err != nil {
		return nil, err
	}

	return convertJSONToPhases(jsonData)
}

func readPhaseFile(filePath string) ([]byte, error) {
	data, err := embeddedPhases.ReadFile(filepath.ToSlash(filePath))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return os.ReadFile(filePath) // #nosec G304 -- operator supplied scenario file
}

func convertJSONToPhases(jsonData []byte) ([]phase, error) {
	var jsonPhases []phaseJSON
	if err := json.Unmarshal(jsonData, &jsonPhases); err != nil {
		return nil, err
	}
	if len(jsonPhases) == 0 {
		return nil, errNoPhases
	}

	phases := make([]phase, len(jsonPhases))
	for i, jp := range jsonPhases {
		p, err := jp.toPhase()
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		phases[i] = p
	}

	return phases, nil
}

// phaseJSON is the on-disk form of a phase. markThresholdMs is optional and
// falls back to marker.DefaultMarkThreshold.
type phaseJSON struct {
	DurationSeconds int      `json:"durationSeconds"`
	CapacityRatio   float64  `json:"capacityRatio"`
	MaxBurstKbps    int      `json:"maxBurstKbps"`
	DataLossRate    float64  `json:"dataLossRate"`
	AckLossRate     int      `json:"ackLossRate"`
	MarkThresholdMs *float64 `json:"markThresholdMs,omitempty"`
}

type phase struct {
	duration      time.Duration
	capacityRatio float64
	maxBurst      int
	dataLossRate  float64
	ackLossRate   int
	markThreshold time.Duration
}

func (p phase) String() string {
	return fmt.Sprintf(
		"duration=%v, capacityRatio=%v, maxBurst=%vbit, dataLoss=%v%%, ackLoss=%v%%, markThreshold=%v",
		p.duration, p.capacityRatio, p.maxBurst, p.dataLossRate, p.ackLossRate, p.markThreshold,
	)
}

func (pj phaseJSON) toPhase() (phase, error) {
	if pj.DurationSeconds <= 0 {
		return phase{}, errInvalidDuration
	}
	if pj.CapacityRatio <= 0 || pj.CapacityRatio > 100 {
		return phase{}, errInvalidCapacity
	}
	if pj.MaxBurstKbps <= 0 {
		return phase{}, errInvalidMaxBurst
	}
	if pj.DataLossRate < 0 || pj.DataLossRate > 100 {
		return phase{}, errInvalidDataLoss
	}
	if pj.AckLossRate < 0 || pj.AckLossRate > 100 {
		return phase{}, errInvalidAckLoss
	}

	threshold := marker.DefaultMarkThreshold
	if pj.MarkThresholdMs != nil {
		if *pj.MarkThresholdMs < 0 {
			return phase{}, errInvalidThreshold
		}
		threshold = time.Duration(*pj.MarkThresholdMs * float64(time.Millisecond))
	}

	return phase{
		duration:      time.Duration(pj.DurationSeconds) * time.Second,
		capacityRatio: pj.CapacityRatio,
		maxBurst:      pj.MaxBurstKbps * vnet.KBit,
		dataLossRate:  pj.DataLossRate,
		ackLossRate:   pj.AckLossRate,
		markThreshold: threshold,
	}, nil
}
