package stage

import (
	"fmt"
	"strings"
)

// Stage represents one discrete phase of an on-premise to cloud migration
type Stage string

// Stage enumeration, in order of execution.
const (
	NotStarted                  Stage = "NOT_STARTED"
	Authentication              Stage = "AUTHENTICATION"
	ProvisionApplication        Stage = "PROVISION_APPLICATION"
	ProvisionApplicationWait    Stage = "PROVISION_APPLICATION_WAIT"
	ProvisionMigrationStack     Stage = "PROVISION_MIGRATION_STACK"
	ProvisionMigrationStackWait Stage = "PROVISION_MIGRATION_STACK_WAIT"
	FsMigrationCopy             Stage = "FS_MIGRATION_COPY"
	FsMigrationCopyWait         Stage = "FS_MIGRATION_COPY_WAIT"
	OfflineWarning              Stage = "OFFLINE_WARNING"
	DbMigrationExport           Stage = "DB_MIGRATION_EXPORT"
	DbMigrationExportWait       Stage = "DB_MIGRATION_EXPORT_WAIT"
	DbMigrationUpload           Stage = "DB_MIGRATION_UPLOAD"
	DbMigrationUploadWait       Stage = "DB_MIGRATION_UPLOAD_WAIT"
	DataMigrationImport         Stage = "DATA_MIGRATION_IMPORT"
	DataMigrationImportWait     Stage = "DATA_MIGRATION_IMPORT_WAIT"
	Validate                    Stage = "VALIDATE"
	Cutover                     Stage = "CUTOVER"
	Finished                    Stage = "FINISHED"
	Error                       Stage = "ERROR"
)

// successors is the transition table. ERROR is handled separately in
// IsValidTransition and is not listed here.
// Warning: when adding a new stage it must be added to this table and to All.
var successors = map[Stage][]Stage{
	NotStarted:                  {Authentication},
	Authentication:              {ProvisionApplication},
	ProvisionApplication:        {ProvisionApplicationWait, ProvisionMigrationStack},
	ProvisionApplicationWait:    {ProvisionMigrationStack},
	ProvisionMigrationStack:     {ProvisionMigrationStackWait, FsMigrationCopy},
	ProvisionMigrationStackWait: {FsMigrationCopy},
	FsMigrationCopy:             {FsMigrationCopyWait, OfflineWarning},
	FsMigrationCopyWait:         {OfflineWarning},
	OfflineWarning:              {DbMigrationExport},
	DbMigrationExport:           {DbMigrationExportWait, DbMigrationUpload, DataMigrationImport},
	DbMigrationExportWait:       {DbMigrationUpload},
	DbMigrationUpload:           {DbMigrationUploadWait, DataMigrationImport},
	DbMigrationUploadWait:       {DataMigrationImport},
	DataMigrationImport:         {DataMigrationImportWait, Validate},
	DataMigrationImportWait:     {Validate},
	Validate:                    {Cutover},
	Cutover:                     {Finished},
	Finished:                    {},
	Error:                       {},
}

// All lists every stage in the order of execution, ERROR last.
func All() []Stage {
	return []Stage{
		NotStarted,
		Authentication,
		ProvisionApplication,
		ProvisionApplicationWait,
		ProvisionMigrationStack,
		ProvisionMigrationStackWait,
		FsMigrationCopy,
		FsMigrationCopyWait,
		OfflineWarning,
		DbMigrationExport,
		DbMigrationExportWait,
		DbMigrationUpload,
		DbMigrationUploadWait,
		DataMigrationImport,
		DataMigrationImportWait,
		Validate,
		Cutover,
		Finished,
		Error,
	}
}

// IsValidTransition reports whether a migration may move from one stage to
// another. ERROR can be entered from every stage except FINISHED; every other
// transition must be listed in the successor table.
func IsValidTransition(from, to Stage) bool {
	if !from.Known() || !to.Known() {
		return false
	}
	if to == Error {
		return from != Finished
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns the stages reachable from the given stage, ERROR included
// where legal.
func Successors(from Stage) []Stage {
	next := append([]Stage(nil), successors[from]...)
	if from.Known() && from != Finished {
		next = append(next, Error)
	}
	return next
}

// Parse converts a stage name into a Stage. Both the upper case constant name
// and the lower case key form are accepted.
func Parse(s string) (Stage, error) {
	st := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" {
		return NotStarted, nil
	}
	if !st.Known() {
		return "", fmt.Errorf("unknown migration stage %q", s)
	}
	return st, nil
}

// Known reports whether s is a member of the stage enumeration.
func (s Stage) Known() bool {
	_, ok := successors[s]
	return ok
}

// IsTerminal is true for FINISHED and ERROR.
func (s Stage) IsTerminal() bool {
	return s == Finished || s == Error
}

// IsWait is true for the stages that await asynchronous work.
func (s Stage) IsWait() bool {
	return strings.HasSuffix(string(s), "_WAIT")
}

// Key returns the lower case form used in persisted settings and the API.
func (s Stage) Key() string {
	return strings.ToLower(string(s))
}

func (s Stage) String() string {
	return s.Key()
}
