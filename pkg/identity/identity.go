package identity

import (
	"errors"
	"os"

	"github.com/transport-urbain/fleet-tracker/pkg/file"
)

// Identity holds the vehicle's unique identifier and fleet metadata.
type Identity struct {
	VehicleID string `json:"vehicle_id"`
	BusNumber string `json:"bus_number,omitempty"`
	FleetID   string `json:"fleet_id,omitempty"`
}

// VehicleInfoInterface defines methods for managing vehicle identity.
type VehicleInfoInterface interface {
	Load() error
	GetVehicleID() string
	GetIdentity() *Identity
}

// VehicleInfo manages the vehicle identity file.
type VehicleInfo struct {
	identityFile string
	identity     Identity
	fileOps      file.FileOperations
}

// NewVehicleInfo initializes a new VehicleInfo instance.
func NewVehicleInfo(filePath string, fileOps file.FileOperations) VehicleInfoInterface {
	return &VehicleInfo{
		identityFile: filePath,
		fileOps:      fileOps,
	}
}

// Load reads the vehicle identity from disk. A missing or empty vehicle id
// is an error; the agent cannot publish anonymous positions.
func (v *VehicleInfo) Load() error {
	if err := v.fileOps.ReadJsonFile(v.identityFile, &v.identity); err != nil {
		if os.IsNotExist(err) {
			return errors.New("vehicle identity file not found")
		}
		return err
	}

	if v.identity.VehicleID == "" {
		return errors.New("vehicle identity file has no vehicle_id")
	}
	return nil
}

// GetVehicleID returns the vehicle's unique id.
func (v *VehicleInfo) GetVehicleID() string {
	return v.identity.VehicleID
}

// GetIdentity returns the full vehicle identity.
func (v *VehicleInfo) GetIdentity() *Identity {
	return &v.identity
}
