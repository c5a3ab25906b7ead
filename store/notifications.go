package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orderwatch/reconcile"
)

// ErrNotFound is returned when a notification id does not exist.
var ErrNotFound = errors.New("notification not found")

const notificationColumns = `id, kind, title, message, order_id, order_no, restaurant_name, status, status_label, source, is_read, created_at`

func (db *DB) InsertNotification(n reconcile.Notification) error {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.Exec(db.Q(`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.Kind, n.Title, n.Message, n.OrderID, n.OrderNo, n.RestaurantName,
		n.Status, n.StatusLabel, string(n.Source), n.Read, db.timeArg(createdAt))
	if err != nil {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

// ListNotifications returns the newest notifications first.
func (db *DB) ListNotifications(limit int) ([]*reconcile.Notification, error) {
	return db.queryNotifications(`SELECT `+notificationColumns+` FROM notifications ORDER BY seq DESC LIMIT ?`, limit)
}

func (db *DB) ListUnreadNotifications(limit int) ([]*reconcile.Notification, error) {
	return db.queryNotifications(`SELECT `+notificationColumns+` FROM notifications WHERE is_read=`+db.dialect.BoolFalse()+` ORDER BY seq DESC LIMIT ?`, limit)
}

func (db *DB) GetNotification(id string) (*reconcile.Notification, error) {
	list, err := db.queryNotifications(`SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (db *DB) CountUnreadNotifications() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE is_read=` + db.dialect.BoolFalse()).Scan(&n)
	return n, err
}

func (db *DB) MarkNotificationRead(id string) error {
	res, err := db.Exec(db.Q(`UPDATE notifications SET is_read=`+db.dialect.BoolTrue()+` WHERE id=?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (db *DB) MarkAllNotificationsRead() (int64, error) {
	res, err := db.Exec(`UPDATE notifications SET is_read=` + db.dialect.BoolTrue() + ` WHERE is_read=` + db.dialect.BoolFalse())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) DeleteNotification(id string) error {
	res, err := db.Exec(db.Q(`DELETE FROM notifications WHERE id=?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (db *DB) DeleteAllNotifications() (int64, error) {
	res, err := db.Exec(`DELETE FROM notifications`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryNotifications(query string, args ...any) ([]*reconcile.Notification, error) {
	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*reconcile.Notification
	for rows.Next() {
		var n reconcile.Notification
		var source string
		var createdAt any
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Message, &n.OrderID, &n.OrderNo, &n.RestaurantName,
			&n.Status, &n.StatusLabel, &source, &n.Read, &createdAt); err != nil {
			return nil, err
		}
		n.Source = reconcile.Source(source)
		n.CreatedAt = parseTime(createdAt)
		list = append(list, &n)
	}
	return list, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
