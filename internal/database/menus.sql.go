package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const menuItemStockColumns = `
    dmi.id, dmi.daily_menu_id, dmi.food_item_id, dmi.batch_count, dmi.plates_per_batch,
    dmi.total_plates, dmi.reserved_plates, dmi.is_available, dmi.sold_out,
    fi.name, fi.price_per_plate,
    dm.menu_date, dm.is_active, dm.is_published, dm.meal_period_id,
    mp.name, mp.ordering_start_time, mp.ordering_end_time, mp.serving_start_time, mp.serving_end_time
FROM daily_menu_items dmi
JOIN food_items fi ON fi.id = dmi.food_item_id
JOIN daily_menus dm ON dm.id = dmi.daily_menu_id
JOIN meal_periods mp ON mp.id = dm.meal_period_id`

// MenuItemStockRow is one stock row joined with the food item, its daily menu
// and the menu's meal period windows.
type MenuItemStockRow struct {
	ID                uuid.UUID      `json:"id"`
	DailyMenuID       uuid.UUID      `json:"daily_menu_id"`
	FoodItemID        uuid.UUID      `json:"food_item_id"`
	BatchCount        int32          `json:"batch_count"`
	PlatesPerBatch    int32          `json:"plates_per_batch"`
	TotalPlates       int32          `json:"total_plates"`
	ReservedPlates    int32          `json:"reserved_plates"`
	IsAvailable       bool           `json:"is_available"`
	SoldOut           bool           `json:"sold_out"`
	FoodName          string         `json:"food_name"`
	PricePerPlate     pgtype.Numeric `json:"price_per_plate"`
	MenuDate          pgtype.Date    `json:"menu_date"`
	MenuIsActive      bool           `json:"menu_is_active"`
	MenuIsPublished   bool           `json:"menu_is_published"`
	MealPeriodID      uuid.UUID      `json:"meal_period_id"`
	PeriodName        string         `json:"period_name"`
	OrderingStartTime pgtype.Time    `json:"ordering_start_time"`
	OrderingEndTime   pgtype.Time    `json:"ordering_end_time"`
	ServingStartTime  pgtype.Time    `json:"serving_start_time"`
	ServingEndTime    pgtype.Time    `json:"serving_end_time"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMenuItemStock(row rowScanner) (MenuItemStockRow, error) {
	var i MenuItemStockRow
	err := row.Scan(
		&i.ID,
		&i.DailyMenuID,
		&i.FoodItemID,
		&i.BatchCount,
		&i.PlatesPerBatch,
		&i.TotalPlates,
		&i.ReservedPlates,
		&i.IsAvailable,
		&i.SoldOut,
		&i.FoodName,
		&i.PricePerPlate,
		&i.MenuDate,
		&i.MenuIsActive,
		&i.MenuIsPublished,
		&i.MealPeriodID,
		&i.PeriodName,
		&i.OrderingStartTime,
		&i.OrderingEndTime,
		&i.ServingStartTime,
		&i.ServingEndTime,
	)
	return i, err
}

const getMenuItemStock = `SELECT` + menuItemStockColumns + `
WHERE dmi.id = $1`

func (q *Queries) GetMenuItemStock(ctx context.Context, id uuid.UUID) (MenuItemStockRow, error) {
	return scanMenuItemStock(q.db.QueryRow(ctx, getMenuItemStock, id))
}

// FOR NO KEY UPDATE OF dmi serializes reservations on the stock row without
// blocking inserts of order_items that reference it.
const getMenuItemStockForUpdate = `SELECT` + menuItemStockColumns + `
WHERE dmi.id = $1
FOR NO KEY UPDATE OF dmi`

func (q *Queries) GetMenuItemStockForUpdate(ctx context.Context, id uuid.UUID) (MenuItemStockRow, error) {
	return scanMenuItemStock(q.db.QueryRow(ctx, getMenuItemStockForUpdate, id))
}

const listMenuItemStockByMenu = `SELECT` + menuItemStockColumns + `
WHERE dmi.daily_menu_id = $1
ORDER BY fi.name`

func (q *Queries) ListMenuItemStockByMenu(ctx context.Context, dailyMenuID uuid.UUID) ([]MenuItemStockRow, error) {
	rows, err := q.db.Query(ctx, listMenuItemStockByMenu, dailyMenuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MenuItemStockRow
	for rows.Next() {
		i, err := scanMenuItemStock(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateMenuItemReservation = `
UPDATE daily_menu_items
SET reserved_plates = $2, sold_out = $3, updated_at = NOW()
WHERE id = $1
RETURNING id, daily_menu_id, food_item_id, batch_count, plates_per_batch,
    total_plates, reserved_plates, is_available, sold_out, created_at, updated_at`

type UpdateMenuItemReservationParams struct {
	ID             uuid.UUID `json:"id"`
	ReservedPlates int32     `json:"reserved_plates"`
	SoldOut        bool      `json:"sold_out"`
}

func (q *Queries) UpdateMenuItemReservation(ctx context.Context, arg UpdateMenuItemReservationParams) (DailyMenuItem, error) {
	row := q.db.QueryRow(ctx, updateMenuItemReservation, arg.ID, arg.ReservedPlates, arg.SoldOut)
	var i DailyMenuItem
	err := row.Scan(
		&i.ID,
		&i.DailyMenuID,
		&i.FoodItemID,
		&i.BatchCount,
		&i.PlatesPerBatch,
		&i.TotalPlates,
		&i.ReservedPlates,
		&i.IsAvailable,
		&i.SoldOut,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createDailyMenuItem = `
INSERT INTO daily_menu_items (daily_menu_id, food_item_id, batch_count, plates_per_batch, total_plates, sold_out)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, daily_menu_id, food_item_id, batch_count, plates_per_batch,
    total_plates, reserved_plates, is_available, sold_out, created_at, updated_at`

type CreateDailyMenuItemParams struct {
	DailyMenuID    uuid.UUID `json:"daily_menu_id"`
	FoodItemID     uuid.UUID `json:"food_item_id"`
	BatchCount     int32     `json:"batch_count"`
	PlatesPerBatch int32     `json:"plates_per_batch"`
	TotalPlates    int32     `json:"total_plates"`
	SoldOut        bool      `json:"sold_out"`
}

func (q *Queries) CreateDailyMenuItem(ctx context.Context, arg CreateDailyMenuItemParams) (DailyMenuItem, error) {
	row := q.db.QueryRow(ctx, createDailyMenuItem,
		arg.DailyMenuID,
		arg.FoodItemID,
		arg.BatchCount,
		arg.PlatesPerBatch,
		arg.TotalPlates,
		arg.SoldOut,
	)
	var i DailyMenuItem
	err := row.Scan(
		&i.ID,
		&i.DailyMenuID,
		&i.FoodItemID,
		&i.BatchCount,
		&i.PlatesPerBatch,
		&i.TotalPlates,
		&i.ReservedPlates,
		&i.IsAvailable,
		&i.SoldOut,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const dailyMenuWithPeriodColumns = `
    dm.id, dm.menu_date, dm.meal_period_id, dm.is_active, dm.is_published, dm.notes,
    mp.name, mp.ordering_start_time, mp.ordering_end_time, mp.serving_start_time, mp.serving_end_time
FROM daily_menus dm
JOIN meal_periods mp ON mp.id = dm.meal_period_id`

type DailyMenuWithPeriodRow struct {
	ID                uuid.UUID   `json:"id"`
	MenuDate          pgtype.Date `json:"menu_date"`
	MealPeriodID      uuid.UUID   `json:"meal_period_id"`
	IsActive          bool        `json:"is_active"`
	IsPublished       bool        `json:"is_published"`
	Notes             pgtype.Text `json:"notes"`
	PeriodName        string      `json:"period_name"`
	OrderingStartTime pgtype.Time `json:"ordering_start_time"`
	OrderingEndTime   pgtype.Time `json:"ordering_end_time"`
	ServingStartTime  pgtype.Time `json:"serving_start_time"`
	ServingEndTime    pgtype.Time `json:"serving_end_time"`
}

func scanDailyMenuWithPeriod(row rowScanner) (DailyMenuWithPeriodRow, error) {
	var i DailyMenuWithPeriodRow
	err := row.Scan(
		&i.ID,
		&i.MenuDate,
		&i.MealPeriodID,
		&i.IsActive,
		&i.IsPublished,
		&i.Notes,
		&i.PeriodName,
		&i.OrderingStartTime,
		&i.OrderingEndTime,
		&i.ServingStartTime,
		&i.ServingEndTime,
	)
	return i, err
}

const getDailyMenuWithPeriod = `SELECT` + dailyMenuWithPeriodColumns + `
WHERE dm.id = $1`

func (q *Queries) GetDailyMenuWithPeriod(ctx context.Context, id uuid.UUID) (DailyMenuWithPeriodRow, error) {
	return scanDailyMenuWithPeriod(q.db.QueryRow(ctx, getDailyMenuWithPeriod, id))
}

const listPublishedMenusByDate = `SELECT` + dailyMenuWithPeriodColumns + `
WHERE dm.menu_date = $1 AND dm.is_published AND dm.is_active
ORDER BY mp.start_time`

func (q *Queries) ListPublishedMenusByDate(ctx context.Context, menuDate pgtype.Date) ([]DailyMenuWithPeriodRow, error) {
	rows, err := q.db.Query(ctx, listPublishedMenusByDate, menuDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DailyMenuWithPeriodRow
	for rows.Next() {
		i, err := scanDailyMenuWithPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createDailyMenu = `
INSERT INTO daily_menus (menu_date, meal_period_id, is_published, notes, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, menu_date, meal_period_id, is_active, is_published, notes, created_by, created_at, updated_at`

type CreateDailyMenuParams struct {
	MenuDate     pgtype.Date `json:"menu_date"`
	MealPeriodID uuid.UUID   `json:"meal_period_id"`
	IsPublished  bool        `json:"is_published"`
	Notes        pgtype.Text `json:"notes"`
	CreatedBy    pgtype.UUID `json:"created_by"`
}

func (q *Queries) CreateDailyMenu(ctx context.Context, arg CreateDailyMenuParams) (DailyMenu, error) {
	row := q.db.QueryRow(ctx, createDailyMenu,
		arg.MenuDate,
		arg.MealPeriodID,
		arg.IsPublished,
		arg.Notes,
		arg.CreatedBy,
	)
	var i DailyMenu
	err := row.Scan(
		&i.ID,
		&i.MenuDate,
		&i.MealPeriodID,
		&i.IsActive,
		&i.IsPublished,
		&i.Notes,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const mealPeriodColumns = `id, name, start_time, end_time, ordering_start_time, ordering_end_time,
    serving_start_time, serving_end_time, is_active, created_at, updated_at`

func scanMealPeriod(row rowScanner) (MealPeriod, error) {
	var i MealPeriod
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.StartTime,
		&i.EndTime,
		&i.OrderingStartTime,
		&i.OrderingEndTime,
		&i.ServingStartTime,
		&i.ServingEndTime,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getMealPeriodByName = `SELECT ` + mealPeriodColumns + ` FROM meal_periods WHERE name = $1`

func (q *Queries) GetMealPeriodByName(ctx context.Context, name string) (MealPeriod, error) {
	return scanMealPeriod(q.db.QueryRow(ctx, getMealPeriodByName, name))
}

const listActiveMealPeriods = `SELECT ` + mealPeriodColumns + `
FROM meal_periods WHERE is_active ORDER BY start_time`

func (q *Queries) ListActiveMealPeriods(ctx context.Context) ([]MealPeriod, error) {
	rows, err := q.db.Query(ctx, listActiveMealPeriods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MealPeriod
	for rows.Next() {
		i, err := scanMealPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertMealPeriod = `
INSERT INTO meal_periods (name, start_time, end_time, ordering_start_time, ordering_end_time,
    serving_start_time, serving_end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO UPDATE SET
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    ordering_start_time = EXCLUDED.ordering_start_time,
    ordering_end_time = EXCLUDED.ordering_end_time,
    serving_start_time = EXCLUDED.serving_start_time,
    serving_end_time = EXCLUDED.serving_end_time,
    updated_at = NOW()
RETURNING ` + mealPeriodColumns

type UpsertMealPeriodParams struct {
	Name              string      `json:"name"`
	StartTime         pgtype.Time `json:"start_time"`
	EndTime           pgtype.Time `json:"end_time"`
	OrderingStartTime pgtype.Time `json:"ordering_start_time"`
	OrderingEndTime   pgtype.Time `json:"ordering_end_time"`
	ServingStartTime  pgtype.Time `json:"serving_start_time"`
	ServingEndTime    pgtype.Time `json:"serving_end_time"`
}

func (q *Queries) UpsertMealPeriod(ctx context.Context, arg UpsertMealPeriodParams) (MealPeriod, error) {
	return scanMealPeriod(q.db.QueryRow(ctx, upsertMealPeriod,
		arg.Name,
		arg.StartTime,
		arg.EndTime,
		arg.OrderingStartTime,
		arg.OrderingEndTime,
		arg.ServingStartTime,
		arg.ServingEndTime,
	))
}

const foodItemColumns = `id, name, description, price_per_plate, is_active, created_at, updated_at`

func scanFoodItem(row rowScanner) (FoodItem, error) {
	var i FoodItem
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.PricePerPlate,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getFoodItem = `SELECT ` + foodItemColumns + ` FROM food_items WHERE id = $1`

func (q *Queries) GetFoodItem(ctx context.Context, id uuid.UUID) (FoodItem, error) {
	return scanFoodItem(q.db.QueryRow(ctx, getFoodItem, id))
}

const upsertFoodItem = `
INSERT INTO food_items (name, description, price_per_plate)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET
    description = EXCLUDED.description,
    price_per_plate = EXCLUDED.price_per_plate,
    updated_at = NOW()
RETURNING ` + foodItemColumns

type UpsertFoodItemParams struct {
	Name          string         `json:"name"`
	Description   pgtype.Text    `json:"description"`
	PricePerPlate pgtype.Numeric `json:"price_per_plate"`
}

func (q *Queries) UpsertFoodItem(ctx context.Context, arg UpsertFoodItemParams) (FoodItem, error) {
	return scanFoodItem(q.db.QueryRow(ctx, upsertFoodItem, arg.Name, arg.Description, arg.PricePerPlate))
}
