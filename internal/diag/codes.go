package diag

// Diagnostic codes for the obfuscation pipeline, following the teacher's
// range convention for its own error codes.
//
// Code ranges:
// P0001-P0099: pass framework errors (registry, pipeline, stamping)
// P0100-P0199: ineligibility / skip notices (recovered locally)
// P0200-P0299: encoding-limit errors (bytecode compiler)
// P0300-P0399: register/spill exhaustion errors (bytecode compiler)
// P0400-P0499: verifier failures
// P0500-P0599: CLI/driver errors (outside the pipeline itself)

const (
	CodeDuplicatePass   = "P0001"
	CodeUnknownPass     = "P0002"
	CodePipelineAborted = "P0003"

	CodeIneligibleFunction  = "P0101"
	CodeUnrecognizedOpcode  = "P0102"
	CodeSkippedTerminator   = "P0103"
	CodeSkippedDeclaration  = "P0104"

	CodeEncodingLimit  = "P0201"
	CodeTooManyParams  = "P0202"

	CodeSpillExhaustion = "P0301"

	CodeVerificationFailed = "P0401"

	CodeParseFailed = "P0501"
	CodeInvalidFlag = "P0502"
	CodeWriteFailed = "P0503"
)
