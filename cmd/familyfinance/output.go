package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
	"github.com/FACorreiaa/familyfinance/internal/domain/schema"
)

const errorColumnWidth = 100

func printJob(w io.Writer, job *repository.ImportJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Job:\t%s\n", job.ID)
	fmt.Fprintf(tw, "File:\t%s\n", job.Filename)
	fmt.Fprintf(tw, "Parser:\t%s\n", job.SourceType)
	fmt.Fprintf(tw, "Source:\t%s\n", job.Source)
	fmt.Fprintf(tw, "Status:\t%s\n", job.Status)
	fmt.Fprintf(tw, "Rows:\t%d processed of %d\n", job.ProcessedRows, job.TotalRows)
	fmt.Fprintf(tw, "Imported:\t%d\n", job.ImportedRows)
	fmt.Fprintf(tw, "Duplicates:\t%d\n", job.DuplicateRows)
	fmt.Fprintf(tw, "Categorized:\t%d of %d\n", job.CategorizedRows, job.UncategorizedRows)
	fmt.Fprintf(tw, "Created:\t%s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *job.ErrorMessage)
	}
	tw.Flush()
}

func printJobTable(w io.Writer, jobs []repository.ImportJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No import jobs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tIMPORTED\tDUPLICATES\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			j.ID, j.Filename, j.Status, j.ImportedRows, j.DuplicateRows, j.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func printErrorTable(w io.Writer, jobs []repository.ImportJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No import errors.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tERROR")
	for _, j := range jobs {
		msg := ""
		if j.ErrorMessage != nil {
			msg = repository.Truncate(*j.ErrorMessage, errorColumnWidth)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Filename, j.Status, msg)
	}
	tw.Flush()
}

func printProgress(w io.Writer, job *repository.ImportJob) {
	switch job.Status {
	case repository.StatusCategorizing:
		fmt.Fprintf(w, "%s  categorized %d/%d\n", job.Status, job.CategorizedRows, job.UncategorizedRows)
	default:
		fmt.Fprintf(w, "%s  %d/%d rows\n", job.Status, job.ProcessedRows, job.TotalRows)
	}
}

func printSchemaTable(w io.Writer, schemas []schema.ParserSchema) {
	if len(schemas) == 0 {
		fmt.Fprintln(w, "No parser schemas.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tACTIVE\tAI")
	for _, s := range schemas {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", s.ID, s.Name, s.FileType, s.IsActive, s.CreatedByAI)
	}
	tw.Flush()
}
