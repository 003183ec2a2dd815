package errors

import "net/http"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes
const (
	CodeOK             ErrorCode = "OK"
	CodeUnknown        ErrorCode = "COMMON_000"
	CodeInternal       ErrorCode = "COMMON_001"
	CodeInvalidParam   ErrorCode = "COMMON_002"
	CodeNotFound       ErrorCode = "COMMON_005"
	CodeConflict       ErrorCode = "COMMON_006"
	CodeUnavailable    ErrorCode = "COMMON_008"
	CodeTimeout        ErrorCode = "COMMON_009"
	CodeSerialization  ErrorCode = "COMMON_011"
	CodeDatabaseError  ErrorCode = "COMMON_012"
	CodeCacheError     ErrorCode = "COMMON_013"
	CodeExternal       ErrorCode = "COMMON_014"
	CodeStorageError   ErrorCode = "COMMON_017"
	CodeMessagingError ErrorCode = "COMMON_018"
)

// Configuration error codes
const (
	CodeInvalidConfig           ErrorCode = "CFG_001"
	CodeUnsupportedDistribution ErrorCode = "CFG_002"
	CodeInvalidObjectives       ErrorCode = "CFG_003"
	CodeUnsupportedAlgorithm    ErrorCode = "CFG_004"
	CodeUnsupportedClipPolicy   ErrorCode = "CFG_005"
	CodeUnsupportedPreference   ErrorCode = "CFG_006"
)

// Molecule error codes
const (
	CodeMoleculeInvalid        ErrorCode = "MOL_001"
	CodeDescriptorFailed       ErrorCode = "MOL_002"
	CodeFingerprintFailed      ErrorCode = "MOL_003"
	CodeUnknownFragment        ErrorCode = "MOL_004"
	CodeProxyPredictionFailed  ErrorCode = "MOL_005"
	CodeProxyNotReady          ErrorCode = "MOL_006"
	CodePartitionClassifyError ErrorCode = "MOL_007"
)

// Reward error codes
const (
	CodeRewardComputation ErrorCode = "RWD_001"
	CodeRewardNonFinite   ErrorCode = "RWD_002"
	CodeShapeMismatch     ErrorCode = "RWD_003"
)

// Environment error codes
const (
	CodeIllegalAction     ErrorCode = "ENV_001"
	CodeActionOutOfRange  ErrorCode = "ENV_002"
	CodeInvalidTrajectory ErrorCode = "ENV_003"
)

// Experiment / training error codes
const (
	CodeExperimentDirExists ErrorCode = "EXP_001"
	CodeExperimentDirUnsafe ErrorCode = "EXP_002"
	CodeOfflineDataLoad     ErrorCode = "EXP_003"
	CodeCheckpointIO        ErrorCode = "EXP_004"
	CodeTrainingDiverged    ErrorCode = "TRN_001"
	CodeTrainerNotReady     ErrorCode = "TRN_002"
)

// HTTPStatus maps an error code to the status returned by the status API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidParam, CodeInvalidConfig, CodeUnsupportedDistribution, CodeInvalidObjectives,
		CodeUnsupportedAlgorithm, CodeUnsupportedClipPolicy, CodeUnsupportedPreference:
		return http.StatusBadRequest
	case CodeConflict, CodeExperimentDirExists:
		return http.StatusConflict
	case CodeUnavailable, CodeTrainerNotReady, CodeProxyNotReady:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
