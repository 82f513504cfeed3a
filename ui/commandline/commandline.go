// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: parsing of context
// settings, the per-epoch report line, a summary table of all epochs and a progress bar.
package commandline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/fno/pkg/ml/train/epochs"
	"golang.org/x/exp/constraints"
)

// FormatEpochLine returns the one line summary of an epoch: the epoch index, the duration in seconds,
// the train MSE, the train relative L2 and the test relative L2, separated by spaces.
func FormatEpochLine(report epochs.EpochReport) string {
	return fmt.Sprintf("%d %.4f %s %s %s", report.Epoch, report.Duration.Seconds(),
		formatLoss(report.TrainMSE), formatLoss(report.TrainL2), formatLoss(report.TestL2))
}

// EpochPrinterName is the name of the hook registered by AttachEpochPrinter.
const EpochPrinterName = "fno.ui.commandline.epochPrinter"

// AttachEpochPrinter writes FormatEpochLine to w at the end of every epoch.
// Use it instead of AttachProgressBar when the output is not a terminal.
func AttachEpochPrinter(loop *epochs.Loop, w io.Writer) {
	loop.OnEpochEnd(EpochPrinterName, 0, func(_ *epochs.Loop, report epochs.EpochReport) error {
		_, err := fmt.Fprintln(w, FormatEpochLine(report))
		return err
	})
}

// EpochsTable renders the reports as a table, one row per epoch.
func EpochsTable(reports []epochs.EpochReport) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Epoch", "Duration", "Learning rate", "Train MSE", "Train L2", "Test L2").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return rightAlignedStyle
		})
	for _, report := range reports {
		table.Row(
			strconv.Itoa(report.Epoch),
			FormatDuration(report.Duration),
			formatLoss(report.LearningRate),
			formatLoss(report.TrainMSE),
			formatLoss(report.TrainL2),
			formatLoss(report.TestL2),
		)
	}
	return table.String()
}

func formatLoss[F constraints.Float](value F) string {
	return strconv.FormatFloat(float64(value), 'g', 6, 64)
}
