// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/fno/pkg/ml/train/epochs"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "fno.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// numStatsRows is the number of rows of the stats table drawn above the bar.
const numStatsRows = 6

// progressBar holds a progressbar being displayed over all the steps (train and eval batches) of a run.
type progressBar struct {
	stepsPerEpoch int
	bar           *progressbar.ProgressBar

	// lipgloss-based asynchronous display.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup
	stopOnce         sync.Once

	// Owned by the loop goroutine.
	lastReport *epochs.EpochReport
}

type progressBarUpdate struct {
	amount int
	rows   [numStatsRows][2]string

	// flushed, if not nil, is closed once the update is drawn. The next draw starts on a new line.
	flushed chan struct{}
}

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop: it displays the
// progression over all the batches of the run and a table with the latest losses. At the end of every epoch
// the display is flushed and the epoch line (see FormatEpochLine) is printed, and at the end of the run a
// table with all epochs (see EpochsTable).
//
// stepsPerEpoch is the number of train plus eval batches of one epoch.
//
// The returned function stops the display and restores the cursor. It is called at the end of the run, but
// Loop.Run doesn't reach it if it fails: callers should defer it. It can be called more than once.
func AttachProgressBar(loop *epochs.Loop, stepsPerEpoch int) (stop func()) {
	pBar := &progressBar{
		stepsPerEpoch: stepsPerEpoch,
		isFirstOutput: true,
		termenv:       termenv.NewOutput(os.Stdout),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	loop.OnStep(ProgressBarName, 0, pBar.onStep)
	loop.OnEpochEnd(ProgressBarName, 0, pBar.onEpochEnd)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
	return pBar.stop
}

func (pBar *progressBar) onStart(loop *epochs.Loop) error {
	pBar.bar = progressbar.NewOptions(pBar.stepsPerEpoch*loop.NumEpochs,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so the loop is not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawUpdates()
	return nil
}

func (pBar *progressBar) onStep(loop *epochs.Loop, phase epochs.Phase, batch int, loss float64) error {
	pBar.updates <- pBar.makeUpdate(loop, fmt.Sprintf("%s batch #%s", phase, humanize.Comma(int64(batch))), loss)
	return nil
}

func (pBar *progressBar) makeUpdate(loop *epochs.Loop, position string, loss float64) progressBarUpdate {
	update := progressBarUpdate{amount: 1}
	update.rows[0] = [2]string{"Epoch", fmt.Sprintf("%d of %d (%s)", loop.Epoch, loop.NumEpochs, position)}
	update.rows[1] = [2]string{"Median train step duration", FormatDuration(loop.MedianTrainStepDuration())}
	update.rows[2] = [2]string{"Batch relative L2", formatLoss(loss)}
	update.rows[3] = [2]string{"Last train MSE", "-"}
	update.rows[4] = [2]string{"Last train L2", "-"}
	update.rows[5] = [2]string{"Last test L2", "-"}
	if pBar.lastReport != nil {
		update.rows[3][1] = formatLoss(pBar.lastReport.TrainMSE)
		update.rows[4][1] = formatLoss(pBar.lastReport.TrainL2)
		update.rows[5][1] = formatLoss(pBar.lastReport.TestL2)
	}
	return update
}

func (pBar *progressBar) onEpochEnd(loop *epochs.Loop, report epochs.EpochReport) error {
	pBar.lastReport = &report
	update := pBar.makeUpdate(loop, "done", report.TestL2)
	update.amount = 0
	update.flushed = make(chan struct{})
	pBar.updates <- update
	<-update.flushed
	fmt.Println(FormatEpochLine(report))
	return nil
}

func (pBar *progressBar) onEnd(_ *epochs.Loop, reports []epochs.EpochReport) error {
	pBar.stop()
	fmt.Println(EpochsTable(reports))
	return nil
}

// stop closes the updates channel and waits for the drawing goroutine to finish.
func (pBar *progressBar) stop() {
	pBar.stopOnce.Do(func() {
		if pBar.updates == nil {
			// Never started.
			return
		}
		close(pBar.updates)
		pBar.asyncUpdatesDone.Wait()
		pBar.termenv.ShowCursor()
	})
}

// drawUpdates asynchronously draws updates: this is handy if the training is faster than the terminal,
// in particular if running on cloud, with a relatively slow network connection.
func (pBar *progressBar) drawUpdates() {
	defer pBar.asyncUpdatesDone.Done()
	for update := range pBar.updates {
		// Exhaust the updates in the buffer, up to the next flush.
		amount := update.amount
	exhaust:
		for update.flushed == nil {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}

		// Clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			// Table rows, its borders, the bar and the new line after it.
			pBar.termenv.CursorPrevLine(numStatsRows + 2 + 2)
		}
		pBar.isFirstOutput = false

		fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		fmt.Println()
		pBar.termenv.ShowCursor()
		if update.flushed != nil {
			pBar.isFirstOutput = true
			close(update.flushed)
			continue
		}
		time.Sleep(maxUpdateFrequency)
	}
}
