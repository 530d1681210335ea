package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/pipeline/mocks"
)

func fixedNow() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

func TestDocReaderWritesSummary(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	job := newJob(t, config.ServicePDFReader, "季度 报告《终稿》.docx")
	env, prog, _ := newEnv(t, config.PipelineConfig{StageTimeout: time.Minute})

	extractor := mocks.NewMockTextExtractor(ctrl)
	summarizer := mocks.NewMockSummarizer(ctrl)
	extractor.EXPECT().Extract(gomock.Any(), job.SourcePath).Return("营业收入增长百分之十二", nil)
	summarizer.EXPECT().Summarize(gomock.Any(), "营业收入增长", "zh", job.OriginalFilename).Return("# 摘要\n- 收入增长", nil)

	d := &DocReader{Extractor: extractor, Summarizer: summarizer, MaxInputChars: 6, Now: fixedNow}
	man, err := d.Run(context.Background(), job, env)
	require.NoError(t, err)

	assert.Equal(t, []string{"季度报告终稿_20260309.docx", "季度报告终稿_20260309.md"}, man.Paths())
	md, err := os.ReadFile(filepath.Join(job.OutputDir, "季度报告终稿_20260309.md"))
	require.NoError(t, err)
	assert.Equal(t, "# 摘要\n- 收入增长\n", string(md))
	assert.Equal(t, 3, prog.total)
	assert.Equal(t, 3, prog.done)
}

func TestDocReaderNoText(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	job := newJob(t, config.ServicePDFReader, "scan.pdf")
	env, prog, _ := newEnv(t, config.PipelineConfig{StageTimeout: time.Minute})
	extractor := mocks.NewMockTextExtractor(ctrl)
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return("  \n ", nil)

	_, err := (&DocReader{Extractor: extractor, Summarizer: mocks.NewMockSummarizer(ctrl)}).Run(context.Background(), job, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, jobs.KindExtraction, jobs.KindOf(err))
	assert.Equal(t, 0, prog.done)
}

func TestDocReaderSummarizerFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	job := newJob(t, config.ServicePDFReader, "notes.txt")
	env, _, _ := newEnv(t, config.PipelineConfig{StageTimeout: time.Minute})
	extractor := mocks.NewMockTextExtractor(ctrl)
	summarizer := mocks.NewMockSummarizer(ctrl)
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any()).Return("plain english text", nil)
	summarizer.EXPECT().Summarize(gomock.Any(), "plain english text", "en", "notes.txt").Return("", errors.New("503"))

	_, err := (&DocReader{Extractor: extractor, Summarizer: summarizer}).Run(context.Background(), job, env)
	assert.Equal(t, "summarize: 503", err.Error())
	entries, _ := os.ReadDir(job.OutputDir)
	assert.Empty(t, entries)
}

func TestCleanFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report"},
		{"my  report__v2 .docx", "myreport_v2"},
		{"《合同》: a|b*c?.pdf", "合同abc"},
		{"__x__.txt", "x"},
		{"<>.pdf", "document"},
		{"archive.tar.gz", "archive.tar"},
		{`dir\name/part.md`, "dirnamepart"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanFilename(tt.in), tt.in)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 10))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 0))
	assert.Equal(t, strings.Repeat("字", 3), TruncateRunes(strings.Repeat("字", 5), 3))
}
