package sheets

import (
	"fragnation-bot/internal/models"
	"fragnation-bot/internal/util"
)

const (
	SheetSolos   = "Solos"
	SheetMembers = "Team_Members"
)

// ExportRoster appends the current roster to the spreadsheet: one row per
// solo registration and one per team member. The spreadsheet is a staff
// convenience, never authoritative; each export appends a fresh batch
// stamped with the export time.
func (c *Client) ExportRoster(sn *models.Snapshot) (int, error) {
	now := util.NowISO()

	soloRows := [][]interface{}{}
	for _, s := range sn.Solos {
		soloRows = append(soloRows, []interface{}{
			s.UserID, s.RealName, s.IGN, s.CurrentRank, s.PeakRank, s.Paid, s.PaymentTxn, now,
		})
	}
	memberRows := [][]interface{}{}
	for code, t := range sn.Teams {
		for _, m := range t.Members {
			memberRows = append(memberRows, []interface{}{
				code, t.TeamName, t.Confirmed, m.UserID, m.IGN, m.Paid, m.PaymentTxn, now,
			})
		}
	}

	total := 0
	if len(soloRows) > 0 {
		if err := c.appendRows(SheetSolos, soloRows); err != nil {
			return total, err
		}
		total += len(soloRows)
	}
	if len(memberRows) > 0 {
		if err := c.appendRows(SheetMembers, memberRows); err != nil {
			return total, err
		}
		total += len(memberRows)
	}
	return total, nil
}
