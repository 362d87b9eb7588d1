package sink

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

func page(n *int, prefix string, records []int) PageWrite {
	return PageWrite{
		Source:          SourceKey{TenantID: "acme", IntegrationID: "int-1"},
		IntegrationType: "jira",
		DataType:        "issues",
		JobID:           "job-1",
		Records:         records,
		RecordCount:     len(records),
		PageNumber:      n,
		FileNamePrefix:  prefix,
	}
}

func intPtr(i int) *int { return &i }

func TestPageKey(t *testing.T) {
	tests := []struct {
		name  string
		write PageWrite
		want  string
	}{
		{name: "numbered", write: page(intPtr(3), "", nil), want: "acme/jira/int-1/job-1/issues/page-3.json"},
		{name: "single page", write: page(nil, "", nil), want: "acme/jira/int-1/job-1/issues/data.json"},
		{name: "unique prefix", write: page(intPtr(0), "1700000000000", nil), want: "acme/jira/int-1/job-1/issues/1700000000000_page-0.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageKey(tt.write))
		})
	}
}

func TestPageWrite_Validate(t *testing.T) {
	valid := page(intPtr(0), "", nil)
	require.NoError(t, valid.Validate())

	missing := valid
	missing.JobID = ""
	assert.True(t, errors.Is(missing.Validate(), errors.ErrInvalidRequest))

	traversal := valid
	traversal.DataType = ".."
	assert.Error(t, traversal.Validate())

	slash := valid
	slash.Source.TenantID = "a/b"
	assert.Error(t, slash.Validate())

	negative := valid
	negative.PageNumber = intPtr(-1)
	assert.Error(t, negative.Validate())
}

func TestFileSink_StoreAndRead(t *testing.T) {
	s := NewFileSink(afero.NewMemMapFs(), "/data")
	ctx := context.Background()

	ref, err := s.StorePage(ctx, page(intPtr(0), "", []int{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, "acme/jira/int-1/job-1/issues/page-0.json", ref.Key)
	assert.Equal(t, 3, ref.RecordCount)
	require.NotNil(t, ref.PageNumber)
	assert.Equal(t, 0, *ref.PageNumber)

	records, err := s.ReadPage(ref.Key)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.JSONEq(t, "2", string(records[1]))
}

func TestFileSink_OverwriteSameKey(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	_, err := s.StorePage(ctx, page(intPtr(0), "", []int{1, 2, 3}))
	require.NoError(t, err)
	ref, err := s.StorePage(ctx, page(intPtr(0), "", []int{9}))
	require.NoError(t, err)

	records, err := s.ReadPage(ref.Key)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, "9", string(records[0]))

	keys, err := s.ListKeys("acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/jira/int-1/job-1/issues/page-0.json"}, keys, "no temp files or duplicates left behind")
}

func TestFileSink_EmptyPage(t *testing.T) {
	s := NewMemorySink()
	ref, err := s.StorePage(context.Background(), page(nil, "", nil))
	require.NoError(t, err)

	records, err := s.ReadPage(ref.Key)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileSink_Errors(t *testing.T) {
	s := NewMemorySink()

	_, err := s.ReadPage("acme/missing.json")
	assert.True(t, errors.IsNotFound(err))

	bad := page(intPtr(0), "", nil)
	bad.Records = make(chan int)
	_, err = s.StorePage(context.Background(), bad)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.StorePage(ctx, page(intPtr(0), "", []int{1}))
	assert.ErrorIs(t, err, context.Canceled)

	keys, err := s.ListKeys("nobody")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileSink_ReadOnlyFs(t *testing.T) {
	s := NewFileSink(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/data")
	_, err := s.StorePage(context.Background(), page(intPtr(0), "", []int{1}))
	assert.Error(t, err)
}
