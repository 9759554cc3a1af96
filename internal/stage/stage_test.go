package stage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legal is the expected transition table written out pair by pair.
var legal = map[[2]Stage]bool{
	{NotStarted, Authentication}:                           true,
	{Authentication, ProvisionApplication}:                 true,
	{ProvisionApplication, ProvisionApplicationWait}:       true,
	{ProvisionApplication, ProvisionMigrationStack}:        true,
	{ProvisionApplicationWait, ProvisionMigrationStack}:    true,
	{ProvisionMigrationStack, ProvisionMigrationStackWait}: true,
	{ProvisionMigrationStack, FsMigrationCopy}:             true,
	{ProvisionMigrationStackWait, FsMigrationCopy}:         true,
	{FsMigrationCopy, FsMigrationCopyWait}:                 true,
	{FsMigrationCopy, OfflineWarning}:                      true,
	{FsMigrationCopyWait, OfflineWarning}:                  true,
	{OfflineWarning, DbMigrationExport}:                    true,
	{DbMigrationExport, DbMigrationExportWait}:             true,
	{DbMigrationExport, DbMigrationUpload}:                 true,
	{DbMigrationExport, DataMigrationImport}:               true,
	{DbMigrationExportWait, DbMigrationUpload}:             true,
	{DbMigrationUpload, DbMigrationUploadWait}:             true,
	{DbMigrationUpload, DataMigrationImport}:               true,
	{DbMigrationUploadWait, DataMigrationImport}:           true,
	{DataMigrationImport, DataMigrationImportWait}:         true,
	{DataMigrationImport, Validate}:                        true,
	{DataMigrationImportWait, Validate}:                    true,
	{Validate, Cutover}:                                    true,
	{Cutover, Finished}:                                    true,
}

func TestIsValidTransitionExhaustive(t *testing.T) {
	for _, from := range All() {
		for _, to := range All() {
			want := legal[[2]Stage{from, to}]
			if to == Error {
				want = from != Finished
			}
			assert.Equal(t, want, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestErrorReachableFromEveryNonFinishedStage(t *testing.T) {
	for _, from := range All() {
		if from == Finished {
			assert.False(t, IsValidTransition(from, Error))
			continue
		}
		assert.True(t, IsValidTransition(from, Error), "ERROR should be reachable from %s", from)
	}
}

func TestSuccessorsMatchTable(t *testing.T) {
	for _, from := range All() {
		for _, to := range Successors(from) {
			assert.True(t, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.Empty(t, Successors(Finished))
	assert.Equal(t, []Stage{Error}, Successors(Error))
}

func TestEveryStageHasTableEntry(t *testing.T) {
	require.Len(t, successors, len(All()))
	for _, s := range All() {
		assert.True(t, s.Known(), s)
	}
}

func TestUnknownStagesAreRejected(t *testing.T) {
	assert.False(t, IsValidTransition("BOGUS", Error))
	assert.False(t, IsValidTransition(NotStarted, "BOGUS"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"fs_migration_copy", FsMigrationCopy, false},
		{"FS_MIGRATION_COPY", FsMigrationCopy, false},
		{" error ", Error, false},
		{"", NotStarted, false},
		{"  ", NotStarted, false},
		{"\t\n", NotStarted, false},
		{"nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStagePredicates(t *testing.T) {
	assert.True(t, Finished.IsTerminal())
	assert.True(t, Error.IsTerminal())
	assert.False(t, FsMigrationCopyWait.IsTerminal())
	assert.True(t, FsMigrationCopyWait.IsWait())
	assert.False(t, FsMigrationCopy.IsWait())
	assert.Equal(t, "db_migration_export", DbMigrationExport.String())
}

func TestInvalidStageError(t *testing.T) {
	var err error = &InvalidStageError{Expected: FsMigrationCopy, Actual: Authentication, Target: FsMigrationCopyWait, Prefix: "cannot start"}
	wrapped := fmt.Errorf("job: %w", err)

	var stageErr *InvalidStageError
	require.True(t, errors.As(wrapped, &stageErr))
	assert.Equal(t, FsMigrationCopy, stageErr.Expected)
	assert.Equal(t, Authentication, stageErr.Actual)
	assert.Contains(t, err.Error(), "cannot start. expected migration stage to be in `fs_migration_copy` but was in `authentication`")
}
