// Package highscore keeps the persistent top-N leaderboard, stored either as a
// flat CSV file or in SQLite.
package highscore
