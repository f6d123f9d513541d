package protocol

// Directory and identity constants used throughout MMOS.
const (
	// MmosDir is the user-level state directory (e.g., ~/.mmos).
	MmosDir = ".mmos"

	// DBFileName is the coordination database file inside MmosDir.
	DBFileName = "mmos.db"

	// ConfigFileName is the TOML config file inside MmosDir.
	ConfigFileName = "config.toml"

	// AutoWorker selects load-based automatic worker assignment.
	AutoWorker = "auto"

	// SystemActor is the changed_by identity for internally triggered
	// transitions (orphan requeue on re-registration).
	SystemActor = "system"

	// OperatorActor is the changed_by identity for operator-issued
	// transitions that bypass worker ownership.
	OperatorActor = "operator"
)
