package sqlinline

// Amounts travel as text and are cast to numeric in SQL.

// QWalletHold debits the balance and records the hold in one statement. It
// returns true when the hold exists afterwards, including a replayed ref.
const QWalletHold = `--sql 54554070-d006-4052-a021-5f332ab198dc
with existing as (
    select ref from wallet_holds where ref = $3::text
),
debit as (
    update wallets
    set balance = balance - $2::text::numeric,
        updated_at = now()
    where user_id = $1::text
      and balance >= $2::text::numeric
      and not exists (select 1 from existing)
    returning user_id
),
hold as (
    insert into wallet_holds (ref, user_id, amount, state, created_at)
    select $3::text, user_id, $2::text::numeric, 'held', now()
    from debit
    returning ref
),
entry as (
    insert into wallet_entries (ref, user_id, kind, amount, hold_ref, created_at)
    select ref, $1::text, 'hold', $2::text::numeric, ref, now()
    from hold
    returning ref
)
select exists (select 1 from existing) or exists (select 1 from entry);
`

// QWalletCharge settles a held reservation as spent. Any part of the hold
// above the charged amount goes back to the balance. The second column is
// the hold state before the statement ran.
const QWalletCharge = `--sql 119572ca-006d-4a3e-9e36-8fb36be0c11f
with settled as (
    update wallet_holds
    set state = 'charged',
        settled_at = now()
    where ref = $4::text
      and user_id = $1::text
      and state = 'held'
    returning ref, amount
),
entry as (
    insert into wallet_entries (ref, user_id, kind, amount, hold_ref, created_at)
    select $3::text, $1::text, 'charge', least(amount, $2::text::numeric), ref, now()
    from settled
    on conflict (ref) do nothing
    returning ref
),
change as (
    update wallets w
    set balance = w.balance + (s.amount - $2::text::numeric),
        updated_at = now()
    from settled s
    where w.user_id = $1::text
      and s.amount > $2::text::numeric
    returning w.user_id
)
select exists (select 1 from entry), coalesce((select state from wallet_holds where ref = $4::text), '');
`

// QWalletReturn puts a held reservation back on the balance. $3 is the
// ledger entry ref and $4 its kind (refund or release).
const QWalletReturn = `--sql 61a45852-9338-4f59-82d0-6dc840cdf689
with settled as (
    update wallet_holds
    set state = 'released',
        settled_at = now()
    where ref = $2::text
      and user_id = $1::text
      and state = 'held'
    returning ref, amount
),
credit as (
    update wallets w
    set balance = w.balance + s.amount,
        updated_at = now()
    from settled s
    where w.user_id = $1::text
    returning w.user_id
),
entry as (
    insert into wallet_entries (ref, user_id, kind, amount, hold_ref, created_at)
    select $3::text, $1::text, $4::text, amount, ref, now()
    from settled
    on conflict (ref) do nothing
    returning ref
)
select exists (select 1 from entry), coalesce((select state from wallet_holds where ref = $2::text), '');
`

// QWalletTopUp credits a balance once per ref and returns the new balance.
const QWalletTopUp = `--sql f79615a1-e05d-4a6c-8c06-6ee8cc1309cc
with entry as (
    insert into wallet_entries (ref, user_id, kind, amount, created_at)
    values ($3::text, $1::text, 'topup', $2::text::numeric, now())
    on conflict (ref) do nothing
    returning amount
),
upsert as (
    insert into wallets (user_id, balance, updated_at)
    select $1::text, amount, now()
    from entry
    on conflict (user_id) do update set
        balance = wallets.balance + excluded.balance,
        updated_at = now()
    returning balance
)
select coalesce((select balance from upsert), (select balance from wallets where user_id = $1::text), 0)::text;
`

const QWalletBalance = `--sql 095b9324-bf44-4417-a70e-ac081b499c22
select coalesce((select balance from wallets where user_id = $1::text), 0)::text;
`
